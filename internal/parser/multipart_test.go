package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMultipart(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"This is the preamble.",
		"--B",
		"Content-Type: text/plain",
		"",
		"first",
		"--B  ",
		"Content-Type: text/html",
		"",
		"<p>second</p>",
		"--B--",
		"epilogue",
		"--B",
		"Content-Type: text/plain",
		"",
		"ignored",
	}, "\r\n")

	sections := SplitMultipart(body, "B")
	require.Len(t, sections, 2)

	assert.Equal(t, "text/plain", sections[0].Header.Get("content-type"))
	assert.Equal(t, "first", sections[0].Content)
	assert.Equal(t, "text/html", sections[1].Header.Get("content-type"))
	assert.Equal(t, "<p>second</p>", sections[1].Content)

	for _, s := range sections {
		assert.NotContains(t, s.Content, "--B")
	}
}

func TestSplitMultipartWithoutCloseDelimiter(t *testing.T) {
	t.Parallel()

	body := "--x\r\nContent-Type: text/plain\r\n\r\nonly\r\nline two"
	sections := SplitMultipart(body, "x")
	require.Len(t, sections, 1)
	assert.Equal(t, "only\r\nline two", sections[0].Content)
}

func TestSplitMultipartDropsBlankAndHeaderlessSections(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"--x",
		"   ",
		"--x",
		"",
		"",
		"Content-Type: text/plain",
		"",
		"kept",
		"--x",
		"Content-Type: text/plain",
		"--x--",
	}, "\n")

	sections := SplitMultipart(body, "x")
	require.Len(t, sections, 1)
	assert.Equal(t, "kept", sections[0].Content)
}

func TestSplitMultipartEmptyBoundary(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SplitMultipart("--\r\nContent-Type: text/plain\r\n\r\nx", ""))
}

func TestBoundaryParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        string
	}{
		{contentType: `multipart/mixed; boundary="abc123"`, want: "abc123"},
		{contentType: "multipart/mixed; boundary=abc123", want: "abc123"},
		{contentType: "multipart/mixed; BOUNDARY=xyz", want: "xyz"},
		{contentType: "multipart/mixed; charset=utf-8; boundary=xyz; foo=bar", want: "xyz"},
		{contentType: `multipart/mixed; boundary="a;b c"`, want: "a;b c"},
		{contentType: "multipart/mixed; boundary=xyz trailing", want: "xyz"},
		{contentType: "text/plain", want: ""},
		{contentType: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, boundaryParam(tt.contentType))
		})
	}
}

func TestDispositionParams(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "f.pdf", filenameParam(`attachment; filename="f.pdf"`))
	assert.Equal(t, "my report.pdf", filenameParam(`attachment; filename="my report.pdf"`))
	assert.Equal(t, "doc.pdf", filenameParam("attachment; filename=doc.pdf"))
	assert.Equal(t, "", filenameParam("attachment"))

	assert.Equal(t, "attachment", dispositionType(`Attachment; filename="f.pdf"`))
	assert.Equal(t, "inline", dispositionType("inline"))
	assert.Equal(t, "application/pdf", mediaType(`Application/PDF; name="f.pdf"`))
	assert.Equal(t, "Application/PDF", headValue(`Application/PDF; name="f.pdf"`))
}

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "tags become spaces",
			html: "<html><body><h1>Title</h1><p>This is <strong>bold</strong> text.</p></body></html>",
			want: "Title This is bold text.",
		},
		{
			name: "entities",
			html: "<p>This &amp; that &lt; 10 &gt; 5 &quot;q&quot; &#39;s&#39;</p>",
			want: `This & that < 10 > 5 "q" 's'`,
		},
		{
			name: "non-breaking space collapses",
			html: "a&nbsp;&nbsp;b",
			want: "a b",
		},
		{
			name: "script and style removed",
			html: "<html><head><style>body { color: red; }</style></head><body><script>alert('test');</script><p>Content</p></body></html>",
			want: "Content",
		},
		{
			name: "whitespace runs collapse",
			html: "  <p>one\r\n\r\n   two</p>\t<br/>three  ",
			want: "one two three",
		},
		{
			name: "empty",
			html: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HTMLToText(tt.html))
		})
	}
}
