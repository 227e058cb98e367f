package guard

import (
	"errors"
	"fmt"
	"log/slog"

	"opguard/internal/domain"
)

// Apply performs the side effects of out on host. Each failure is logged and
// the remaining effects still run; the verdict is never affected.
func Apply(host domain.Host, out domain.Outcome, logger *slog.Logger) error {
	var errs []error
	for _, eff := range out.Effects {
		var err error
		switch eff.Kind {
		case domain.EffectGrantPrivilege:
			err = host.GrantPrivilege(eff.Target)
		case domain.EffectSendNotice:
			err = host.SendNotice(eff.Target, eff.Notice.Key, eff.Notice.Args...)
		default:
			err = fmt.Errorf("unknown effect %q", eff.Kind)
		}
		if err != nil {
			logger.Error("effect failed", "effect", string(eff.Kind), "target", eff.Target, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reply sends the notice of an administration result to its requester.
func Reply(host domain.Host, req domain.Requester, res domain.AdminResult, logger *slog.Logger) error {
	if err := host.SendNotice(req.Target(), res.Notice.Key, res.Notice.Args...); err != nil {
		logger.Error("admin reply failed", "target", req.Target(), "err", err)
		return err
	}
	return nil
}
