package lockstep

import (
	"errors"
	"fmt"

	"warfront.io/internal/protocol"
)

var (
	ErrSpoofedPlayer   = errors.New("player id does not match sending peer")
	ErrTickOutOfWindow = errors.New("command tick outside accepted window")
	ErrNotOwner        = errors.New("entity not owned by issuing player")
	ErrUnknownCommand  = errors.New("unknown command type")
)

type commandRule struct {
	ownActors bool
	ownTarget bool
}

// Placing a building needs no owned entity; loading into a transport needs
// the transport (TargetEntity) to be owned as well.
var commandRules = map[protocol.CommandType]commandRule{
	protocol.CmdHeartbeat: {},
	protocol.CmdMove:      {ownActors: true},
	protocol.CmdAttack:    {ownActors: true},
	protocol.CmdStop:      {ownActors: true},
	protocol.CmdGather:    {ownActors: true},
	protocol.CmdBuild:     {},
	protocol.CmdTrain:     {ownActors: true},
	protocol.CmdLoad:      {ownActors: true, ownTarget: true},
	protocol.CmdUnload:    {ownActors: true},
	protocol.CmdRally:     {ownActors: true},
}

// Authorizer performs the receipt checks (identity, tick window) and the
// ownership check applied when a command executes.
type Authorizer struct {
	owners    Ownership
	maxPast   uint64
	maxFuture uint64
}

func NewAuthorizer(owners Ownership, maxPast, maxFuture int) *Authorizer {
	return &Authorizer{owners: owners, maxPast: uint64(maxPast), maxFuture: uint64(maxFuture)}
}

func (a *Authorizer) CheckIdentity(from string, cmd protocol.CommandMsg) error {
	if cmd.PlayerID == "" || cmd.PlayerID != from {
		return fmt.Errorf("%w: peer=%q command=%q", ErrSpoofedPlayer, from, cmd.PlayerID)
	}
	return nil
}

// CheckTick accepts current-maxPast <= tick <= current+maxFuture.
func (a *Authorizer) CheckTick(tick, current uint64) error {
	lo := uint64(0)
	if current > a.maxPast {
		lo = current - a.maxPast
	}
	if tick < lo || tick > current+a.maxFuture {
		return fmt.Errorf("%w: tick=%d window=[%d,%d]", ErrTickOutOfWindow, tick, lo, current+a.maxFuture)
	}
	return nil
}

func (a *Authorizer) Authorize(cmd protocol.CommandMsg) error {
	rule, ok := commandRules[cmd.CommandType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.CommandType)
	}
	if rule.ownActors {
		if len(cmd.EntityIDs) == 0 {
			return fmt.Errorf("%w: %s without entities", ErrNotOwner, cmd.CommandType)
		}
		for _, id := range cmd.EntityIDs {
			if err := a.owned(id, cmd.PlayerID); err != nil {
				return err
			}
		}
	}
	if rule.ownTarget {
		if err := a.owned(cmd.TargetEntity, cmd.PlayerID); err != nil {
			return err
		}
	}
	return nil
}

func (a *Authorizer) owned(id protocol.EntityID, playerID string) error {
	if a.owners == nil {
		return fmt.Errorf("%w: entity %d (no ownership source)", ErrNotOwner, id)
	}
	owner, ok := a.owners.OwnerOf(id)
	if !ok || owner != playerID {
		return fmt.Errorf("%w: entity %d", ErrNotOwner, id)
	}
	return nil
}
