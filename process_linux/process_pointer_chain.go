//go:build linux

package process_linux

import (
	"stacksnap/process"
)

// stackWindow is a copy of the top of a user stack
type stackWindow struct {
	Base  process.Address // Address of Words[0], the stack pointer
	Words []process.Address
}

// Contains reports whether addr is a word-aligned slot inside the window
func (w stackWindow) Contains(addr process.Address) bool {
	return addr >= w.Base && addr < w.End() && (addr-w.Base)%wordSize == 0
}

// End returns the first address past the window
func (w stackWindow) End() process.Address {
	return w.Base + process.Address(len(w.Words)*wordSize)
}

// At returns the word stored at addr
func (w stackWindow) At(addr process.Address) (process.Address, bool) {
	if !w.Contains(addr) {
		return 0, false
	}
	return w.Words[(addr-w.Base)/wordSize], true
}

// Params returns the four words following slot
func (w stackWindow) Params(slot process.Address) [4]process.Address {
	var params [4]process.Address
	for i := range params {
		v, ok := w.At(slot + process.Address((i+1)*wordSize))
		if !ok {
			break
		}
		params[i] = v
	}
	return params
}

// chainLink is one saved frame pointer record: [Frame] holds the caller's
// frame pointer and [Frame+8] the return address.
type chainLink struct {
	Frame  process.Address
	Return process.Address
}

// minChainLinks is the shortest chain trusted over a plain scan
const minChainLinks = 2

// followChain walks saved frame pointer records starting at fp. The chain
// must move strictly up the stack and every return address must satisfy
// isCode.
func followChain(w stackWindow, fp process.Address, isCode func(process.Address) bool, limit int) []chainLink {
	var links []chainLink

	for limit <= 0 || len(links) < limit {
		next, ok := w.At(fp)
		if !ok {
			break
		}
		ret, ok := w.At(fp + wordSize)
		if !ok || !isCode(ret) {
			break
		}

		links = append(links, chainLink{Frame: fp, Return: ret})

		// The outermost record holds a zero frame pointer
		if next == 0 || next <= fp {
			break
		}
		fp = next
	}

	return links
}

// findChain looks for the lowest stack slot that starts a frame pointer
// chain of at least minChainLinks records. The frame pointer register is not
// available for a blocked thread, so the chain is discovered from the saved
// records themselves.
func findChain(w stackWindow, isCode func(process.Address) bool, limit int) []chainLink {
	for i := 0; i+1 < len(w.Words); i++ {
		slot := w.Base + process.Address(i*wordSize)
		saved := w.Words[i]
		if saved <= slot || !w.Contains(saved) || !isCode(w.Words[i+1]) {
			continue
		}

		if links := followChain(w, slot, isCode, limit); len(links) >= minChainLinks {
			return links
		}
	}
	return nil
}

// scanReturnAddresses returns the stack slots holding words that satisfy
// isCode. Used when no frame pointer chain exists.
func scanReturnAddresses(w stackWindow, isCode func(process.Address) bool, limit int) []process.Address {
	var slots []process.Address

	for i, word := range w.Words {
		if limit > 0 && len(slots) >= limit {
			break
		}
		if isCode(word) {
			slots = append(slots, w.Base+process.Address(i*wordSize))
		}
	}

	return slots
}
