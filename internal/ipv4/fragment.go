package ipv4

import (
	"time"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/scheduler"
)

// ReassemblyTimeout is the bounded lifetime of a partial reassembly
// (spec §4.3: "half a second by default").
const ReassemblyTimeout = 500 * time.Millisecond

// fragKey identifies one in-progress reassembly by source address and
// IP identification field.
type fragKey struct {
	src string
	id  uint16
}

// fragState is the IPFragmentState from spec §3: only strictly in-order
// fragments are accepted; any out-of-order fragment discards the entire
// reassembly, and a new one starts from that fragment only if its offset
// is 0 (otherwise the fragment is dropped too).
type fragState struct {
	assembled    *buffer.Buffer
	nextOffset   int
	timer        scheduler.TimerHandle
	sourceHeader header
}

func (s *Stack) reassemble(h header, payload []byte) (*buffer.Buffer, header, bool) {
	key := fragKey{src: h.src.String(), id: h.id}
	off := h.offsetBytes()

	s.mu.Lock()
	fs, ok := s.frag[key]
	s.mu.Unlock()

	if off == 0 && !h.moreFragments() {
		// Unfragmented datagram; nothing to reassemble.
		return nil, h, false
	}

	if !ok || off != fs.nextOffset {
		// Spec §4.3: any out-of-order fragment (including a fresh first
		// fragment that isn't offset 0) discards prior state; a new
		// reassembly starts only from an offset-0 fragment.
		if ok {
			fs.timer.Cancel()
			fs.assembled.Release()
		}
		if off != 0 {
			// Can't start a fresh reassembly from a non-zero offset.
			s.mu.Lock()
			delete(s.frag, key)
			s.mu.Unlock()
			return nil, h, false
		}
		fs = &fragState{
			assembled:    buffer.New(0, len(payload)),
			nextOffset:   0,
			sourceHeader: h,
		}
		fs.timer = s.sched.AfterFunc(ReassemblyTimeout, func(time.Time) {
			s.mu.Lock()
			cur, still := s.frag[key]
			if still && cur == fs {
				delete(s.frag, key)
			}
			s.mu.Unlock()
			if still && cur == fs {
				fs.assembled.Release()
			}
		})
		s.mu.Lock()
		s.frag[key] = fs
		s.mu.Unlock()
	}

	if err := fs.assembled.PutBytes(payload); err != nil {
		fs.timer.Cancel()
		s.mu.Lock()
		delete(s.frag, key)
		s.mu.Unlock()
		fs.assembled.Release()
		return nil, h, false
	}
	fs.nextOffset += len(payload)

	if h.moreFragments() {
		return nil, h, false
	}

	// Final fragment received: reassembly complete.
	fs.timer.Cancel()
	s.mu.Lock()
	delete(s.frag, key)
	s.mu.Unlock()

	complete := fs.sourceHeader
	complete.totalLen = uint16(HeaderLen + fs.assembled.Len())
	complete.flags = 0
	complete.fragOffset = 0
	return fs.assembled, complete, true
}
