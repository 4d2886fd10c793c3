// Package metrics содержит счётчики Prometheus для операций сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersCreated считает успешно созданные заказы.
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopledger_orders_created_total",
		Help: "Number of orders created.",
	})

	// OrdersDeleted считает удалённые заказы.
	OrdersDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopledger_orders_deleted_total",
		Help: "Number of orders deleted.",
	})

	// RefundsIssued считает выполненные возвраты средств.
	RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopledger_refunds_issued_total",
		Help: "Number of refunds credited back to user balances.",
	})

	// BalanceDebitedCents суммирует списания с балансов в копейках.
	BalanceDebitedCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopledger_balance_debited_cents_total",
		Help: "Total amount debited from user balances, in cents.",
	})

	// BalanceCreditedCents суммирует зачисления на балансы в копейках.
	BalanceCreditedCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopledger_balance_credited_cents_total",
		Help: "Total amount credited to user balances, in cents.",
	})

	// BalanceAdjustments считает административные корректировки по типу операции.
	BalanceAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopledger_balance_adjustments_total",
		Help: "Number of admin balance adjustments by operation.",
	}, []string{"operation"})
)
