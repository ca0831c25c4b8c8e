package threadring

import (
	"runtime"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
)

// StackTrace is a stack trace, optionally linked to the trace of whatever started the goroutine
// it was taken on. Each thread records the trace of its [Thread.Create] call, linked to its
// creator's.
type StackTrace struct {
	Frames []StackFrame
	Parent *StackTrace

	// Elided is the number of ancestor traces dropped by Truncate beyond this one. Only ever
	// non-zero when Parent is nil.
	Elided int
}

type StackFrame struct {
	Function string
	File     string
	Line     int
}

// GetStackTrace returns the stack trace of the calling goroutine, skipping the innermost skip
// frames above the caller, with parent as its parent trace.
func GetStackTrace(parent *StackTrace, skip uint) StackTrace {
	frames := getFrames(skip + 1) // skip the additional frame introduced by GetStackTrace
	return StackTrace{Frames: frames, Parent: parent}
}

// Depth returns the number of ancestors linked to st, not counting elided ones.
func (st StackTrace) Depth() int {
	n := 0
	for p := st.Parent; p != nil; p = p.Parent {
		n += 1
	}
	return n
}

// Truncate returns a copy of st that keeps at most depth ancestors. The ancestors that were
// dropped are added to the Elided count of the last one kept.
//
// st itself isn't modified, and neither are any of its ancestors: the kept chain is copied if
// anything needs to be dropped.
func (st StackTrace) Truncate(depth int) StackTrace {
	if depth < 0 {
		depth = 0
	}
	if st.Depth() <= depth {
		return st
	}

	root := st
	cur := &root
	for i := 0; i < depth; i += 1 {
		p := *cur.Parent
		cur.Parent = &p
		cur = &p
	}

	elided := 0
	for p := cur.Parent; p != nil; p = p.Parent {
		elided += 1 + p.Elided
	}
	cur.Parent = nil
	cur.Elided = elided
	return root
}

func (st StackTrace) String() string {
	var buf []byte

	for {
		if len(st.Frames) == 0 {
			buf = append(buf, "<empty stack>\n"...)
		} else {
			for _, f := range st.Frames {
				var function, functionTail, file, fileLineSep, line string

				if f.Function == "" {
					function = "<unknown function>"
				} else {
					function = f.Function
					functionTail = "(...)"
				}

				if f.File == "" {
					file = "<unknown file>"
				} else {
					file = f.File
					if f.Line != 0 {
						fileLineSep = ":"
						line = strconv.Itoa(f.Line)
					}
				}

				buf = append(buf, function...)
				buf = append(buf, functionTail...)
				buf = append(buf, "\n\t"...)
				buf = append(buf, file...)
				buf = append(buf, fileLineSep...)
				buf = append(buf, line...)
				buf = append(buf, byte('\n'))
			}
		}

		if st.Parent == nil {
			break
		}

		st = *st.Parent
	}

	if st.Elided != 0 {
		buf = append(buf, '<')
		buf = strconv.AppendInt(buf, int64(st.Elided), 10)
		buf = append(buf, " more ancestors elided>\n"...)
	}

	return string(buf)
}

var pcBufPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, 128)
		return &buf
	},
}

func putPCBuffer(buf *[]uintptr) {
	if len(*buf) < 1024 {
		pcBufPool.Put(buf)
	}
}

func getFrames(skip uint) []StackFrame {
	skip += 2 // skip the frame introduced by this function and runtime.Callers

	pcBuf := pcBufPool.Get().(*[]uintptr)
	defer putPCBuffer(pcBuf)
	if len(*pcBuf) == 0 {
		panic(errors.AssertionFailedf("len(*pcBuf) == 0"))
	}

	// read program counters into the buffer, repeating until buffer is big enough.
	var pc []uintptr
	for {
		n := runtime.Callers(0, *pcBuf)
		if n == 0 {
			panic(errors.AssertionFailedf("runtime.Callers(0, ...) returned zero"))
		}

		if n < len(*pcBuf) {
			pc = (*pcBuf)[:n]
			break
		} else {
			*pcBuf = make([]uintptr, 2*len(*pcBuf))
		}
	}

	framesIter := runtime.CallersFrames(pc)
	var frames []StackFrame
	more := true
	for more {
		var frame runtime.Frame
		frame, more = framesIter.Next()

		if skip > 0 {
			skip -= 1
			continue
		}

		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
	}

	return frames
}
