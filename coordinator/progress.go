package coordinator

import "fmt"

// Progress is the status a generation reports for display
type Progress struct {
	Message       string // Status line, empty once the generation ends
	SymbolMessage string // Latest symbol provider message
	Serial        uint64 // Incremented on every change
	WalkedThreads int
	TotalThreads  int
}

// Text combines the status and symbol provider messages
func (p Progress) Text() string {
	switch {
	case p.SymbolMessage == "":
		return p.Message
	case p.Message == "":
		return p.SymbolMessage
	default:
		return fmt.Sprintf("%s - %s", p.Message, p.SymbolMessage)
	}
}

// percent returns n as a truncated percentage of total, 0 when total is 0
func percent(n, total int) int {
	if total <= 0 {
		return 0
	}
	return n * 100 / total
}
