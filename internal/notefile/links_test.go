package notefile

import (
	"reflect"
	"testing"
)

func TestExtractLinks_Basic(t *testing.T) {
	body := "Intro line\nSee [[n-2|Other]] for details.\n"
	got := ExtractLinks(body)
	want := []LinkRef{{Line: 2, Target: "n-2", Display: "Other"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
}

func TestExtractLinks_MultiplePerLine(t *testing.T) {
	got := ExtractLinks("[[a]] then [[b|Bee]] then [[c]]")
	want := []LinkRef{
		{Line: 1, Target: "a"},
		{Line: 1, Target: "b", Display: "Bee"},
		{Line: 1, Target: "c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
}

func TestExtractLinks_FencedCodeIgnored(t *testing.T) {
	body := "before [[real]]\n```\n[[ignored]]\n```\nafter [[also-real]]\n"
	got := ExtractLinks(body)
	want := []LinkRef{
		{Line: 1, Target: "real"},
		{Line: 5, Target: "also-real"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
}

func TestExtractLinks_FenceWithLanguage(t *testing.T) {
	body := "```go\nx := \"[[nope]]\"\n```\n[[yes]]\n"
	got := ExtractLinks(body)
	want := []LinkRef{{Line: 4, Target: "yes"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
}

func TestExtractLinks_InlineCodeIgnored(t *testing.T) {
	got := ExtractLinks("use `[[not-a-link]]` but [[a-link]] works")
	want := []LinkRef{{Line: 1, Target: "a-link"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
}

func TestExtractLinks_EmptyTargetSkipped(t *testing.T) {
	if got := ExtractLinks("[[]] and [[ ]] and [[|display only]]"); got != nil {
		t.Errorf("links = %v, want none", got)
	}
}

func TestExtractLinks_UnclosedIgnored(t *testing.T) {
	if got := ExtractLinks("open [[never closed"); got != nil {
		t.Errorf("links = %v, want none", got)
	}
}

func TestExtractLinks_PipeInDisplay(t *testing.T) {
	// Only the first pipe separates target from display.
	got := ExtractLinks("[[t|a|b]]")
	want := []LinkRef{{Line: 1, Target: "t", Display: "a|b"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
}

func TestExtractLinks_Empty(t *testing.T) {
	if got := ExtractLinks(""); got != nil {
		t.Errorf("links = %v, want nil", got)
	}
}
