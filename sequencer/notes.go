package sequencer

// noteSet records which of the 128 possible note numbers have been lit and
// are still owed a release by the player. It is owned by the Player alone.
type noteSet struct {
	waiting [128]bool
}

func (n *noteSet) add(note byte) {
	n.waiting[note&0x7f] = true
}

func (n *noteSet) remove(note byte) {
	n.waiting[note&0x7f] = false
}

func (n *noteSet) empty() bool {
	for _, w := range n.waiting {
		if w {
			return false
		}
	}
	return true
}
