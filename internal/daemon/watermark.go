package daemon

// Watermark is the highest command id ever dispatched. It never decreases.
type Watermark struct {
	value int64
}

func NewWatermark(v int64) Watermark {
	if v < 0 {
		v = 0
	}
	return Watermark{value: v}
}

func (w Watermark) Value() int64 {
	return w.value
}

// Covers reports whether id is at or below the watermark, i.e. already handled.
func (w Watermark) Covers(id int64) bool {
	return id <= w.value
}

// Advance moves the watermark to id if id is higher, and reports whether it moved.
func (w *Watermark) Advance(id int64) bool {
	if id <= w.value {
		return false
	}
	w.value = id
	return true
}
