package metadata

import (
	"sort"
	"testing"

	"metasift/detect"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"photo.jpg", KindImage},
		{"photo.JPEG", KindImage},
		{"scan.png", KindImage},
		{"anim.gif", KindImage},
		{"bitmap.bmp", KindImage},
		{"raw.tiff", KindImage},
		{"report.pdf", KindPDF},
		{"dir/Report.PDF", KindPDF},
		{"letter.docx", KindDocument},
		{"song.mp3", KindMedia},
		{"clip.mp4", KindMedia},
		{"notes.txt", KindUnknown},
		{"archive.zip", KindUnknown},
		{"noextension", KindUnknown},
	}
	for _, tc := range tests {
		if got := Classify(tc.path); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindImage, "image"},
		{KindPDF, "pdf"},
		{KindDocument, "document"},
		{KindMedia, "media"},
		{KindUnknown, "unknown"},
		{Kind(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestForKind(t *testing.T) {
	heur := detect.DefaultHeuristics()
	names := map[Kind]string{
		KindImage:    "exif",
		KindPDF:      "pdf",
		KindDocument: "docx",
		KindMedia:    "media",
	}
	for kind, want := range names {
		ex := ForKind(kind, heur)
		if ex == nil {
			t.Fatalf("ForKind(%v) returned nil", kind)
		}
		if got := ex.Name(); got != want {
			t.Errorf("ForKind(%v).Name() = %q, want %q", kind, got, want)
		}
	}
	if ex := ForKind(KindUnknown, heur); ex != nil {
		t.Errorf("ForKind(KindUnknown) = %v, want nil", ex)
	}
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	if !sort.StringsAreSorted(exts) {
		t.Errorf("extensions not sorted: %v", exts)
	}
	seen := make(map[string]bool, len(exts))
	for _, e := range exts {
		if seen[e] {
			t.Errorf("duplicate extension %q", e)
		}
		seen[e] = true
		if Classify("sample"+e) == KindUnknown {
			t.Errorf("Classify does not recognize listed extension %q", e)
		}
	}
	for _, want := range []string{".jpg", ".pdf", ".docx", ".mp3", ".mp4"} {
		if !seen[want] {
			t.Errorf("extension list missing %q: %v", want, exts)
		}
	}
}
