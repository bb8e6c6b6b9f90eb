// Package metrics exporta los eventos del bot como métricas de Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

const namespace = "cardbot"

// Recorder implementa ports.Recorder sobre un registry propio.
type Recorder struct {
	registry       *prometheus.Registry
	matched        *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	purchases      *prometheus.CounterVec
	broadcastDelay prometheus.Gauge
	balance        *prometheus.GaugeVec
	tradesClosed   *prometheus.CounterVec
	realizedProfit prometheus.Gauge
}

// NewRecorder crea y registra las métricas.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		matched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_matched_total",
			Help:      "Listings accepted by the matcher, by bid.",
		}, []string{"bid"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_rejected_total",
			Help:      "Listings rejected by the matcher, by reason.",
		}, []string{"reason"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Purchase intents settled or compensated, by account.",
		}, []string{"account", "result"}),
		broadcastDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_delay_ms",
			Help:      "Current delay between purchase broadcasts.",
		}),
		balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_usd",
			Help:      "Usable balance per account in USD.",
		}, []string{"account"}),
		tradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Trades that reached a terminal state.",
		}, []string{"status"}),
		realizedProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_profit_usd",
			Help:      "Profit realized since start.",
		}),
	}
	r.registry.MustRegister(
		r.matched, r.rejected, r.purchases, r.broadcastDelay,
		r.balance, r.tradesClosed, r.realizedProfit,
		prometheus.NewGoCollector(),
	)
	return r
}

// Registry devuelve el registry para servirlo.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ListingMatched(bidID int) {
	r.matched.WithLabelValues(strconv.Itoa(bidID)).Inc()
}

func (r *Recorder) ListingRejected(reason string) {
	r.rejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) PurchaseResult(account string, bought, compensated int) {
	r.purchases.WithLabelValues(account, "bought").Add(float64(bought))
	r.purchases.WithLabelValues(account, "compensated").Add(float64(compensated))
}

func (r *Recorder) BroadcastDelay(ms int) {
	r.broadcastDelay.Set(float64(ms))
}

func (r *Recorder) Balance(account string, usd float64) {
	r.balance.WithLabelValues(account).Set(usd)
}

// TradeClosed cuenta el trade y suma su profit (puede ser negativo).
func (r *Recorder) TradeClosed(status domain.TradeStatus, profitUSD float64) {
	label := "finished"
	if status == domain.TradeClosed {
		label = "closed"
	}
	r.tradesClosed.WithLabelValues(label).Inc()
	r.realizedProfit.Add(profitUSD)
}
