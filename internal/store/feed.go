package store

import (
	"fmt"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// Apply reconciles one change-feed event into the store. Events for tables the store
// does not hold (reactions, bounties, archives, audit) are ignored.
func (s *Store) Apply(ev *blackboard.ChangeEvent) error {
	if ev.TeamID != s.teamID {
		return nil
	}

	switch ev.Table {
	case blackboard.TableTasks:
		if ev.Op == blackboard.OpDelete {
			s.RemoveTask(ev.RowID)
			return nil
		}
		t, err := ev.Task()
		if err != nil {
			return err
		}
		s.ApplyTask(t)

	case blackboard.TablePins:
		if ev.Op == blackboard.OpDelete {
			s.ApplyPin("")
			return nil
		}
		p, err := ev.Pin()
		if err != nil {
			return err
		}
		s.ApplyPin(p.TaskID)

	case blackboard.TableTeams:
		t, err := ev.Team()
		if err != nil {
			return err
		}
		s.ApplyTeam(t)

	case blackboard.TableMembers:
		m, err := ev.Member()
		if err != nil {
			return err
		}
		s.ApplyMember(m)

	case blackboard.TableMessages:
		if ev.Op == blackboard.OpDelete {
			s.DropMessage(ev.RowID)
			return nil
		}
		m, err := ev.Message()
		if err != nil {
			return err
		}
		s.ReconcileMessage(m)

	case blackboard.TableReactions, blackboard.TableBounties, blackboard.TableArchives, blackboard.TableAudit:
		return nil

	default:
		return fmt.Errorf("unknown change-feed table %q", ev.Table)
	}
	return nil
}
