package plots

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// AnyState matches every source state in a TransitionRule.
const AnyState State = "*"

// TransitionRule defines an allowed lifecycle transition. ReleaseOnly edges
// are applied by the harvest ledger and cannot be proposed directly.
type TransitionRule struct {
	From        State
	To          State
	ReleaseOnly bool
}

// DefaultTransitions defines the allowed plot state transitions.
var DefaultTransitions = []TransitionRule{
	{From: StateDisponible, To: StatePreparado},
	{From: StateDisponible, To: StateSembrado},
	{From: StatePreparado, To: StateSembrado},
	{From: StateSembrado, To: StateEnCrecimiento},
	{From: StateEnCrecimiento, To: StateListoParaCosecha},
	{From: StateEnCrecimiento, To: StateEnfermo},
	{From: StateEnfermo, To: StateEnCrecimiento},
	{From: StateEnfermo, To: StateAbandonado},
	{From: StateListoParaCosecha, To: StateCosechado},
	{From: StateCosechado, To: StateDisponible, ReleaseOnly: true},
	{From: AnyState, To: StateAbandonado},
}

type edge struct {
	from State
	to   State
}

// StateMachine validates plot state transitions.
type StateMachine struct {
	targets     map[State]mapset.Set[State]
	anyTargets  mapset.Set[State]
	releaseOnly mapset.Set[edge]
}

// NewStateMachine creates a machine with the default rules.
func NewStateMachine() *StateMachine {
	return NewStateMachineWithRules(DefaultTransitions)
}

// NewStateMachineWithRules creates a machine for the given rules.
func NewStateMachineWithRules(rules []TransitionRule) *StateMachine {
	m := &StateMachine{
		targets:     make(map[State]mapset.Set[State]),
		anyTargets:  mapset.NewThreadUnsafeSet[State](),
		releaseOnly: mapset.NewThreadUnsafeSet[edge](),
	}
	for _, r := range rules {
		if r.From == AnyState {
			m.anyTargets.Add(r.To)
			continue
		}
		if _, ok := m.targets[r.From]; !ok {
			m.targets[r.From] = mapset.NewThreadUnsafeSet[State]()
		}
		m.targets[r.From].Add(r.To)
		if r.ReleaseOnly {
			m.releaseOnly.Add(edge{r.From, r.To})
		}
	}
	return m
}

// CanTransition reports whether current -> target is in the edge table.
func (m *StateMachine) CanTransition(current, target State) bool {
	if m.anyTargets.Contains(target) {
		return true
	}
	set, ok := m.targets[current]
	return ok && set.Contains(target)
}

// IsReleaseOnly reports whether current -> target may only be applied by a release.
func (m *StateMachine) IsReleaseOnly(current, target State) bool {
	return m.releaseOnly.Contains(edge{current, target})
}

// Validate returns an IllegalTransition error when current -> target is not
// in the edge table.
func (m *StateMachine) Validate(plotID string, current, target State) error {
	if m.CanTransition(current, target) {
		return nil
	}
	return illegalTransition(plotID, current, target,
		fmt.Sprintf("no transition defined from %s to %s", current, target))
}

// ValidateProposal is Validate plus rejection of release-only edges.
func (m *StateMachine) ValidateProposal(plotID string, current, target State) error {
	if err := m.Validate(plotID, current, target); err != nil {
		return err
	}
	if m.IsReleaseOnly(current, target) && !m.anyTargets.Contains(target) {
		return illegalTransition(plotID, current, target,
			fmt.Sprintf("transition from %s to %s is only possible through a release", current, target))
	}
	return nil
}

// AllowedTransitions returns the states that can be proposed from current,
// in lifecycle order.
func (m *StateMachine) AllowedTransitions(current State) []State {
	allowed := []State{}
	for _, s := range AllStates {
		if m.ValidateProposal("", current, s) == nil {
			allowed = append(allowed, s)
		}
	}
	return allowed
}

// Consequences describes what confirming a move into target implies.
func Consequences(target State) []string {
	switch target {
	case StateDisponible:
		return []string{"the plot becomes available", "a new crop can be assigned"}
	case StatePreparado:
		return []string{"the plot is ready for sowing", "preparation tasks can be scheduled"}
	case StateSembrado:
		return []string{"a crop cycle starts", "maintenance tasks can be scheduled", "the expected harvest date is calculated"}
	case StateEnCrecimiento:
		return []string{"crop development is monitored", "fertilization tasks can be scheduled"}
	case StateEnfermo:
		return []string{"the crop problem is recorded", "treatment is required before growth resumes"}
	case StateListoParaCosecha:
		return []string{"the harvest task can be scheduled", "the expected yield is calculated"}
	case StateCosechado:
		return []string{"the current crop cycle ends", "the actual yield is calculated", "the plot enters its rest period"}
	case StateAbandonado:
		return []string{"the plot is not used until reviewed"}
	default:
		return nil
	}
}
