package regalloc

// toposortDistinctCopies orders a set of cross-register copies so that no copy overwrites a
// register before another copy has read its old value, using Kahn's algorithm on the graph
// with edges src -> dst. When no register is free to go next (every remaining destination is
// also some other copy's source — a cycle), one copy's destination is spilled to a fresh
// stack slot before it runs, and whichever copy reads that destination is rewritten to
// unspill from that slot instead, breaking the cycle. freshOff must hand out a distinct stack
// offset each call. post carries the pre-transition fill of whatever each register currently
// holds, needed because the copy being broken describes the fill of the value moving IN, not
// the fill of the value already sitting in its destination that this spill is preserving.
func toposortDistinctCopies(copies []RegCopy, post []RState, freshOff func(bitw int) uint32) ([]RegCopy, []RegUnspill, []RegSpill) {
	remaining := append([]RegCopy(nil), copies...)
	var ordered []RegCopy
	var extraUnspills []RegUnspill
	var extraSpills []RegSpill

	for len(remaining) > 0 {
		if i := readyIndex(remaining); i >= 0 {
			ordered = append(ordered, remaining[i])
			remaining = append(remaining[:i:i], remaining[i+1:]...)
			continue
		}

		// Cycle: spill the first pending copy's destination before it is clobbered, and
		// redirect whichever copy still needs to read that register to unspill instead.
		c := remaining[0]
		off := freshOff(c.Bitw)
		extraSpills = append(extraSpills, RegSpill{Reg: c.Dst, Fill: post[c.Dst].Fill, Off: off, Bitw: c.Bitw})

		redirected := false
		for i := range remaining {
			if remaining[i].Src == c.Dst {
				extraUnspills = append(extraUnspills, RegUnspill{
					Off: off, Reg: remaining[i].Dst, Fill: remaining[i].FromFill, Bitw: remaining[i].Bitw,
				})
				remaining = append(remaining[:i:i], remaining[i+1:]...)
				redirected = true
				break
			}
		}
		if !redirected {
			// c.Dst isn't read by any other pending copy: nothing to break, c itself can run.
			ordered = append(ordered, c)
			remaining = remaining[1:]
		}
	}

	return ordered, extraUnspills, extraSpills
}

// readyIndex returns the index of a copy whose destination is not the source of any other
// pending copy, or -1 if every copy is part of a cycle.
func readyIndex(copies []RegCopy) int {
	for i, c := range copies {
		used := false
		for j, other := range copies {
			if i == j {
				continue
			}
			if other.Src == c.Dst {
				used = true
				break
			}
		}
		if !used {
			return i
		}
	}
	return -1
}
