package engine

import "github.com/DoyleJ11/texrace-backend/internal/problems"

func NewState(lobbyID, name string) State {
	return State{
		LobbyID: lobbyID,
		Name:    name,
		Phase:   PhaseForming,
		Roster:  NewRoster(),
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// MarkupScore awards ceil(len(markup)/10) points, at least one.
func MarkupScore(p problems.Problem) int {
	n := (len(p.Markup) + 9) / 10
	if n < 1 {
		return 1
	}
	return n
}
