package guard

import (
	"context"
	"errors"
	"strings"

	"opguard/internal/domain"
	"opguard/internal/metrics"
	"opguard/internal/policy"
)

// AddAllowListed handles "allowplayer <name>". Checks run in order: argument
// count, authorization, insert. The console is always authorized; an
// interactive requester must itself be allow-listed.
func (e *Engine) AddAllowListed(ctx context.Context, req domain.Requester, args []string) domain.AdminResult {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		metrics.AdminRejected.Inc()
		return adminResult(domain.AdminBadRequest, "", domain.NoticeUsage)
	}
	name := strings.TrimSpace(args[0])

	if !req.Console && !e.policy.IsAllowListed(req.Actor) {
		metrics.AdminRejected.Inc()
		e.logger.Info("allow-list request denied", "requester", req.Actor, "target", name)
		return adminResult(domain.AdminDenied, "", domain.NoticeNoPermission)
	}

	res, err := e.policy.TryAddAllowListed(name)
	if err != nil {
		var perr *domain.PersistenceError
		switch {
		case errors.As(err, &perr):
			// The insert is applied; only the write-back failed.
			metrics.PersistErrors.Inc()
			e.logger.Error("allow-list persisted with error", "actor", name, "err", err)
		case errors.Is(err, domain.ErrBadRequest):
			metrics.AdminRejected.Inc()
			return adminResult(domain.AdminBadRequest, "", domain.NoticeUsage)
		default:
			e.logger.Error("allow-list update failed", "actor", name, "err", err)
		}
	}

	switch res {
	case policy.Added:
		metrics.AllowListAdds.Inc()
		_, size := e.policy.Len()
		metrics.AllowListSize.Set(int64(size))
		return adminResult(domain.AdminAdded, name, domain.NoticePlayerAdded, name)
	case policy.AlreadyPresent:
		return adminResult(domain.AdminAlreadyPresent, "", domain.NoticePlayerExists)
	default:
		return adminResult(domain.AdminBadRequest, "", domain.NoticeUsage)
	}
}

func adminResult(status domain.AdminStatus, display string, key domain.NoticeKey, args ...any) domain.AdminResult {
	return domain.AdminResult{
		Status:      status,
		DisplayName: display,
		Notice:      domain.Notice{Key: key, Args: args},
	}
}
