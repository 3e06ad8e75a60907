package slave

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/globalscale/siteselector/pkg/directory"
	"github.com/globalscale/siteselector/pkg/lookup"
)

// batchSize is the page size used when republishing all users.
const batchSize = 200

// checkConfiguration guards every registry write. A half configured
// instance silently skips the sync instead of failing logins.
func (s *Slave) checkConfiguration() bool {
	if !s.cfg.IsSlave() {
		return false
	}
	if s.cfg.Federation.LookupURL == "" || s.cfg.Federation.JWTSecret == "" {
		if !s.configErrLogged {
			s.log.Error("global site selector not configured correctly, skipping registry sync")
			s.configErrLogged = true
		}
		return false
	}
	return true
}

// accountData builds the registry entry for one account. With
// IgnoreProperties set only the identifying fields are published.
func (s *Slave) accountData(user directory.User) lookup.Entry {
	entry := lookup.Entry{
		"userid": user.UID,
		"name":   user.DisplayName,
	}
	if s.cfg.Federation.IgnoreProperties {
		return entry
	}

	if user.Email != "" {
		entry["email"] = user.Email
	}
	if user.Quota != "" {
		entry["quota"] = user.Quota
	}
	return entry
}

func (s *Slave) cloudID(uid string) string {
	return directory.CloudID(uid, s.cfg.Federation.InstanceHost)
}

// CreateUser publishes a freshly created account to the registry.
func (s *Slave) CreateUser(ctx context.Context, uid string) {
	if !s.checkConfiguration() {
		return
	}

	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		s.log.WithError(err).WithField("uid", uid).Warn("cannot publish new user")
		return
	}

	s.log.WithField("uid", uid).Debug("publishing new user")
	s.pushUsers(ctx, map[string]lookup.Entry{s.cloudID(uid): s.accountData(*user)})
}

// UpdateUser republishes an account after its data changed.
func (s *Slave) UpdateUser(ctx context.Context, uid string) {
	if !s.checkConfiguration() {
		return
	}

	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		s.log.WithError(err).WithField("uid", uid).Warn("cannot publish updated user")
		return
	}

	s.pushUsers(ctx, map[string]lookup.Entry{s.cloudID(uid): s.accountData(*user)})
}

// PreDeleteUser remembers the cloud id of an account about to be deleted.
// Once the local row is gone the cloud id cannot be rebuilt, so it has to
// be captured here.
func (s *Slave) PreDeleteUser(ctx context.Context, uid string) {
	exists, err := s.users.UserExists(ctx, uid)
	if err != nil || !exists {
		return
	}

	if err := s.pending.Mark(ctx, uid, s.cloudID(uid)); err != nil {
		s.log.WithError(err).WithField("uid", uid).Warn("cannot mark user for registry removal")
		return
	}
	s.metrics.PendingDeletions.Inc()
}

// DeleteUser removes a deleted account from the registry. Accounts nobody
// marked beforehand are skipped silently.
func (s *Slave) DeleteUser(ctx context.Context, uid string) {
	if !s.checkConfiguration() {
		return
	}

	cloudID, ok, err := s.pending.Take(ctx, uid)
	if err != nil {
		s.log.WithError(err).WithField("uid", uid).Warn("cannot resolve pending deletion")
		return
	}
	if !ok {
		return
	}
	s.metrics.PendingDeletions.Dec()

	s.log.WithField("uid", uid).Debug("removing user from registry")
	if err := s.lookup.RemoveUsers(ctx, []string{cloudID}); err != nil {
		s.log.WithError(err).Warn("could not remove user from the lookup server")
		return
	}
	s.metrics.SyncedUsersTotal.WithLabelValues("remove").Inc()
}

// BatchUpdate republishes every known user, page by page. Triggered by the
// sync cronjob.
func (s *Slave) BatchUpdate(ctx context.Context) error {
	if !s.checkConfiguration() {
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, b := range s.backends {
		backend := b
		group.Go(func() error {
			offset := 0
			for {
				users, err := backend.Users(ctx, "", batchSize, offset)
				if err != nil {
					return err
				}
				if len(users) == 0 {
					return nil
				}

				page := make(map[string]lookup.Entry, len(users))
				for _, user := range users {
					page[s.cloudID(user.UID)] = s.accountData(user)
				}
				s.pushUsers(ctx, page)

				if len(users) < batchSize {
					return nil
				}
				offset += batchSize
			}
		})
	}
	return group.Wait()
}

// pushUsers is the single registry write path; failures are logged, never
// propagated into the login flow.
func (s *Slave) pushUsers(ctx context.Context, users map[string]lookup.Entry) {
	if len(users) == 0 {
		return
	}
	if err := s.lookup.PushUsers(ctx, users); err != nil {
		s.log.WithError(err).Warn("could not send users to lookup server")
		return
	}
	s.metrics.SyncedUsersTotal.WithLabelValues("push").Add(float64(len(users)))
}
