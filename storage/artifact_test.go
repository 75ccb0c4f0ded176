package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"review_scrooper/models"
)

func str(v string) *string { return &v }

func TestArtifactNaming(t *testing.T) {
	a, err := NewArtifacts("out", "", "")
	if err != nil {
		t.Fatalf("NewArtifacts failed: %v", err)
	}

	tests := []struct {
		url, want string
	}{
		{"https://www.airbnb.com/rooms/12345/reviews?adults=1", "airbnb_reviews_12345.json"},
		{"https://www.airbnb.ca/rooms/987", "airbnb_reviews_987.json"},
		{"https://www.airbnb.com/experiences/55", "airbnb_reviews_unknown.json"},
		{"", "airbnb_reviews_unknown.json"},
	}
	for _, tt := range tests {
		if got := a.Filename(tt.url); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}

	if got := a.Path("https://www.airbnb.com/rooms/1"); got != filepath.Join("out", "airbnb_reviews_1.json") {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestNewArtifactsRejectsPatternWithoutGroup(t *testing.T) {
	if _, err := NewArtifacts("", "", `/rooms/\d+`); err == nil {
		t.Fatalf("expected error for pattern without capture group")
	}
	if _, err := NewArtifacts("", "", `(`); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}

func TestArtifactWriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	a, err := NewArtifacts(dir, "", "")
	if err != nil {
		t.Fatalf("NewArtifacts failed: %v", err)
	}

	reviews := []models.Review{
		models.NewReview(models.ReviewFields{
			Username: str("Zoë"),
			Rating:   str("5 stars"),
			Comment:  "Très bien <3 & more",
		}, str("101"), []string{"https://a0.muscache.com/pictures/1.jpg?im_w=720&x=1"}),
		models.NewReview(models.ReviewFields{Comment: ""}, nil, nil),
	}

	path, err := a.Write("https://www.airbnb.com/rooms/42", reviews)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	text := string(raw)
	for _, want := range []string{`"username": "Zoë"`, `<3 & more`, `im_w=720&x=1`, "\n  {\n    \"username\""} {
		if !strings.Contains(text, want) {
			t.Fatalf("artifact missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, `\u0026`) {
		t.Fatalf("artifact escaped markup characters:\n%s", text)
	}

	got, err := ReadReviews(path)
	if err != nil {
		t.Fatalf("ReadReviews failed: %v", err)
	}
	if diff := cmp.Diff(reviews, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeEmptyReviews(t *testing.T) {
	data, err := EncodeReviews(nil)
	if err != nil {
		t.Fatalf("EncodeReviews failed: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected empty array, got %q", data)
	}
}
