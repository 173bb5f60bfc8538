package domain

import "testing"

func TestProgress_Fraction(t *testing.T) {
	tests := []struct {
		name string
		p    Progress
		want float64
	}{
		{"unknown total", Progress{BytesReceived: 10, TotalBytes: -1}, -1},
		{"zero total", Progress{BytesReceived: 0, TotalBytes: 0}, -1},
		{"half", Progress{BytesReceived: 50, TotalBytes: 100}, 0.5},
		{"complete", Progress{BytesReceived: 100, TotalBytes: 100}, 1},
		{"overshoot is clamped", Progress{BytesReceived: 120, TotalBytes: 100}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Fraction(); got != tt.want {
				t.Errorf("Fraction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownloadRequest_Lifecycle(t *testing.T) {
	req := &DownloadRequest{SourceURL: "https://example.com/a.bin", Name: "a.bin"}

	req.MarkFailed(ResumeToken(`{"offset":10}`))
	if string(req.ResumeToken) != `{"offset":10}` || req.Attempts != 1 {
		t.Fatalf("after failure: ResumeToken=%q Attempts=%d", req.ResumeToken, req.Attempts)
	}

	req.MarkFailed(nil)
	if req.ResumeToken != nil {
		t.Error("nil token should clear resume state")
	}

	req.MarkSucceeded([]byte("done"))
	if req.ResumeToken != nil || req.Attempts != 3 || string(req.ResultBytes) != "done" {
		t.Errorf("after success: ResumeToken=%q Attempts=%d ResultBytes=%q", req.ResumeToken, req.Attempts, req.ResultBytes)
	}
}
