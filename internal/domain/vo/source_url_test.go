package vo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantErr error
	}{
		{
			name:    "already encoded",
			raw:     "https://example.com/files/report%20final.pdf",
			wantKey: "https://example.com/files/report%20final.pdf",
		},
		{
			name:    "literal space is encoded",
			raw:     "https://example.com/files/report final.pdf",
			wantKey: "https://example.com/files/report%20final.pdf",
		},
		{
			name:    "stray percent is escaped",
			raw:     "https://example.com/files/100%zz.txt",
			wantKey: "https://example.com/files/100%25zz.txt",
		},
		{
			name:    "host is lowercased and fragment dropped",
			raw:     "https://Example.COM/a.bin#section",
			wantKey: "https://example.com/a.bin",
		},
		{
			name:    "surrounding whitespace trimmed",
			raw:     "  http://example.com/a.bin\n",
			wantKey: "http://example.com/a.bin",
		},
		{
			name:    "empty",
			raw:     "   ",
			wantErr: ErrEmptyURL,
		},
		{
			name:    "no scheme",
			raw:     "example.com/a.bin",
			wantErr: ErrUnsupportedScheme,
		},
		{
			name:    "ftp scheme",
			raw:     "ftp://example.com/a.bin",
			wantErr: ErrUnsupportedScheme,
		},
		{
			name:    "missing host",
			raw:     "https:///a.bin",
			wantErr: ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSourceURL(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				assert.Empty(t, got.Key())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, got.Key())
		})
	}
}

func mustParse(t *testing.T, raw string) SourceURL {
	t.Helper()
	su, err := ParseSourceURL(raw)
	require.NoError(t, err)
	return su
}

func TestSourceURL_EncodedAndLiteralFormsShareKey(t *testing.T) {
	a := mustParse(t, "https://example.com/files/report%20final.pdf")
	b := mustParse(t, "https://example.com/files/report final.pdf")

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "report_final.pdf", a.Name())
	assert.Equal(t, a.Name(), b.Name())
	assert.Equal(t, "https://example.com/files/report final.pdf", b.Raw())
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "https://example.com/files/report%20final.pdf", want: "report_final.pdf"},
		{raw: "https://example.com/files/report final.pdf", want: "report_final.pdf"},
		{raw: "https://example.com/files/two%20%20spaces.txt", want: "two__spaces.txt"},
		{raw: "https://example.com/files/plus+sign.txt", want: "plus+sign.txt"},
		{raw: "https://example.com/files/archive.tar.gz?token=abc", want: "archive.tar.gz"},
		{raw: "https://example.com/files/dir/", want: "dir"},
		{raw: "https://example.com/%D1%84%D0%B0%D0%B9%D0%BB.pdf", want: "файл.pdf"},
		{raw: "https://example.com/files/100%zz.txt", want: "100%zz.txt"},
		{raw: "https://example.com/", want: ""},
		{raw: "https://example.com", want: ""},
		{raw: "https://example.com/a/..", want: ""},
		{raw: "https://example.com/a%2Fb", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NameFromRaw(tt.raw))
		})
	}
}

func TestNormalizeName_DistinctURLsCollide(t *testing.T) {
	a := mustParse(t, "https://one.example.com/x/report%20final.pdf")
	b := mustParse(t, "https://two.example.com/y/report final.pdf")

	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Name(), b.Name())
}

func TestNameFromRaw_Unparseable(t *testing.T) {
	assert.Equal(t, "", NameFromRaw("not a url"))
	assert.Equal(t, "", NameFromRaw(""))
}
