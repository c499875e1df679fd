package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/processor"
	"github.com/vladislavdragonenkov/checkout/internal/service/settlement"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const (
	defaultReplayLimit = 100
	defaultTimeout     = 5 * time.Minute
)

// dlq-replay перечитывает сохранённые dead letters и повторно прогоняет их
// через сверку. По умолчанию работает в dry-run режиме и только печатает,
// что было бы переиграно.
func main() {
	var (
		dsn     string
		limit   int
		execute bool
	)

	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: CHECKOUT_DATABASE_DSN)")
	flag.IntVar(&limit, "limit", defaultReplayLimit, "max dead letters to replay")
	flag.BoolVar(&execute, "execute", false, "actually replay signals (default: dry-run)")
	flag.Parse()

	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-replay")

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("CHECKOUT_DATABASE_DSN"))
	}
	if dsn == "" {
		fail("CHECKOUT_DATABASE_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	orders := postgres.NewOrderRepository(store)
	deadLetters := postgres.NewDeadLetterRepository(store)

	processorURL := strings.TrimSpace(os.Getenv("CHECKOUT_PROCESSOR_URL"))
	if processorURL == "" {
		fail("CHECKOUT_PROCESSOR_URL is required: replay re-fetches authoritative payment data")
	}
	client := processor.NewClient(processorURL, os.Getenv("CHECKOUT_PROCESSOR_TOKEN"), 5*time.Second)

	reconciler := settlement.NewReconciler(orders, deadLetters, client, logger)

	letters, err := deadLetters.List(limit)
	if err != nil {
		fail("list dead letters: %v", err)
	}
	if len(letters) == 0 {
		fmt.Println("no dead letters to replay")
		return
	}

	replayed, skipped, failed := 0, 0, 0
	for _, letter := range letters {
		if !execute {
			fmt.Printf("dry-run: would replay %s source=%s reason=%s correlation_id=%q payment_id=%q\n",
				letter.ID, letter.Source, letter.Reason, letter.CorrelationID, letter.ExternalPaymentID)
			continue
		}

		if err := replay(ctx, reconciler, letter); err != nil {
			failed++
			logger.WithError(err).WithField("dead_letter_id", letter.ID).Warn("replay failed")
			continue
		}
		if isReplayable(letter) {
			replayed++
		} else {
			skipped++
		}
	}

	if !execute {
		fmt.Printf("dry-run complete: %d dead letters listed (use -execute to replay)\n", len(letters))
		return
	}
	fmt.Printf("replay complete: replayed=%d skipped=%d failed=%d\n", replayed, skipped, failed)
}

func isReplayable(letter domain.DeadLetter) bool {
	return letter.ExternalPaymentID != "" || letter.CorrelationID != ""
}

// replay повторяет исходный сигнал по каналу, из которого он пришёл.
// Сверка идемпотентна, поэтому повторный прогон уже разрешённого сигнала
// безопасен: он либо применится, либо осядет в audit trail.
func replay(ctx context.Context, reconciler settlement.Reconciler, letter domain.DeadLetter) error {
	switch letter.Source {
	case domain.StatusSourceWebhook:
		if letter.ExternalPaymentID == "" {
			return nil
		}
		return reconciler.HandleWebhook(ctx, domain.WebhookSignal{
			EventType:         "payment",
			ExternalPaymentID: letter.ExternalPaymentID,
			Raw:               letter.Payload,
		})
	case domain.StatusSourceRedirect:
		if letter.CorrelationID == "" {
			return nil
		}
		return reconciler.HandleRedirect(ctx, domain.RedirectSignal{
			CorrelationID:     letter.CorrelationID,
			ExternalPaymentID: letter.ExternalPaymentID,
			ProcessorStatus:   letter.ProcessorStatus,
			Raw:               letter.Payload,
		})
	default:
		if letter.CorrelationID == "" {
			return nil
		}
		return reconciler.HandlePoll(ctx, domain.PollSignal{CorrelationID: letter.CorrelationID})
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
