package custody

import (
	"context"
	"errors"

	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
	"github.com/accordsai/courtlane/services/custody/internal/store"
)

// Bootstrap records admin as the initializer. Calling it again with the same
// admin is a no-op.
func (e *Engine) Bootstrap(ctx context.Context, admin model.Identity) error {
	if admin.IsZero() {
		return ErrInvalidIdentity
	}
	return e.update(ctx, func(o *op) error {
		c, err := o.counters()
		if err == nil {
			if c.Admin != admin {
				return ErrAlreadyInitialized
			}
			return nil
		}
		if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		if err := o.putCounters(model.NewCounters(admin)); err != nil {
			return err
		}
		if err := o.tx.Put(o.ctx, store.KindRole, string(admin), model.RoleGrant{
			Identity: admin,
			Roles:    model.RoleInvestigator | model.RoleJudge,
		}); err != nil {
			return err
		}
		ev := o.event(notify.RoleGranted)
		ev.Actor = string(admin)
		ev.Data = map[string]any{"identity": string(admin), "roles": []string{"ADMIN", "INVESTIGATOR", "JUDGE"}}
		o.emit(ev)
		return nil
	})
}

func (e *Engine) GrantInvestigator(ctx context.Context, caller, id model.Identity) error {
	return e.setRole(ctx, caller, id, model.RoleInvestigator, true)
}

func (e *Engine) GrantJudge(ctx context.Context, caller, id model.Identity) error {
	return e.setRole(ctx, caller, id, model.RoleJudge, true)
}

func (e *Engine) RevokeInvestigator(ctx context.Context, caller, id model.Identity) error {
	return e.setRole(ctx, caller, id, model.RoleInvestigator, false)
}

func (e *Engine) RevokeJudge(ctx context.Context, caller, id model.Identity) error {
	return e.setRole(ctx, caller, id, model.RoleJudge, false)
}

func roleName(r model.Role) string {
	switch r {
	case model.RoleInvestigator:
		return "INVESTIGATOR"
	case model.RoleJudge:
		return "JUDGE"
	}
	return "UNKNOWN"
}

func (e *Engine) setRole(ctx context.Context, caller, id model.Identity, r model.Role, grant bool) error {
	return e.update(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != c.Admin {
			return ErrUnauthorized
		}
		if id.IsZero() {
			return ErrInvalidIdentity
		}
		g, err := o.roleGrant(id)
		if err != nil {
			return err
		}
		kind := notify.RoleGranted
		if grant {
			g.Roles |= r
		} else {
			g.Roles &^= r
			kind = notify.RoleRevoked
		}
		if err := o.tx.Put(o.ctx, store.KindRole, string(id), g); err != nil {
			return err
		}
		ev := o.event(kind)
		ev.Actor = string(caller)
		ev.Data = map[string]any{"identity": string(id), "role": roleName(r)}
		o.emit(ev)
		return nil
	})
}

type RoleView struct {
	Identity     model.Identity `json:"identity"`
	Admin        bool           `json:"admin"`
	Investigator bool           `json:"investigator"`
	Judge        bool           `json:"judge"`
}

func (e *Engine) Roles(ctx context.Context, id model.Identity) (RoleView, error) {
	out := RoleView{Identity: id}
	err := e.view(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		out.Admin = !id.IsZero() && id == c.Admin
		if out.Investigator, err = o.hasRole(c, id, model.RoleInvestigator); err != nil {
			return err
		}
		out.Judge, err = o.hasRole(c, id, model.RoleJudge)
		return err
	})
	return out, err
}

func (e *Engine) IsInvestigator(ctx context.Context, id model.Identity) (bool, error) {
	v, err := e.Roles(ctx, id)
	return v.Investigator, err
}

func (e *Engine) IsJudge(ctx context.Context, id model.Identity) (bool, error) {
	v, err := e.Roles(ctx, id)
	return v.Judge, err
}

func (e *Engine) Admin(ctx context.Context) (model.Identity, error) {
	var admin model.Identity
	err := e.view(ctx, func(o *op) error {
		c, err := o.counters()
		admin = c.Admin
		return err
	})
	return admin, err
}
