package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kolmowatch/internal/alerting"
	"kolmowatch/internal/kolmo"
)

// SimulateAlert 通过给定的欧元报价模拟一次告警流程。不访问数据库，
// 直接从静态报价计算当日记录并发送告警。
func (a *App) SimulateAlert(ctx context.Context, usdPerEUR, cnyPerEUR decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	snap := kolmo.NewSnapshot(date, "simulated")
	snap.Quotes["USD"] = kolmo.Quote{Rate: usdPerEUR, Direction: "USD/EUR"}
	snap.Quotes["CNY"] = kolmo.Quote{Rate: cnyPerEUR, Direction: "CNY/EUR"}

	engine := kolmo.NewEngine(a.Logger)
	rec, err := engine.ComputeDaily(snap, nil)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("kolmo", rec.Invariant.Value.String()).
		Str("state", string(rec.Invariant.State)).
		Str("winner", string(rec.Winner)).
		Msg("simulated record computed")

	note := alerting.Notification{
		Date:         rec.Date,
		KolmoValue:   rec.Invariant.Value,
		DeviationPct: rec.Invariant.DeviationPct,
		State:        rec.Invariant.State,
		Winner:       rec.Winner,
		Provider:     "simulated",
		Channels:     a.Config.Alerting.Channels,
	}
	return notifier.Notify(ctx, note)
}
