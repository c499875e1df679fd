package domain

// ProcessorStatus — статус платежа в словаре процессора.
type ProcessorStatus string

const (
	ProcessorStatusApproved  ProcessorStatus = "approved"
	ProcessorStatusRejected  ProcessorStatus = "rejected"
	ProcessorStatusPending   ProcessorStatus = "pending"
	ProcessorStatusInProcess ProcessorStatus = "in_process"
)

// MapProcessorStatus переводит статус процессора во внутренний статус заказа.
// Неизвестные значения схлопываются в pending, чтобы событие не потерялось;
// второй результат false сообщает вызывающему, что нужен warning в логе.
func MapProcessorStatus(status ProcessorStatus) (OrderStatus, bool) {
	switch status {
	case ProcessorStatusApproved:
		return OrderStatusApproved, true
	case ProcessorStatusRejected:
		return OrderStatusRejected, true
	case ProcessorStatusPending, ProcessorStatusInProcess:
		return OrderStatusPending, true
	default:
		return OrderStatusPending, false
	}
}
