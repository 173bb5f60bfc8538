package domain

// Progress is a snapshot of a running transfer.
type Progress struct {
	URL           string
	BytesReceived int64
	// TotalBytes is -1 when the server did not announce a length
	TotalBytes int64
}

// Fraction returns completion in [0,1], or -1 if the total is unknown.
func (p Progress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return -1
	}
	f := float64(p.BytesReceived) / float64(p.TotalBytes)
	if f > 1 {
		return 1
	}
	return f
}
