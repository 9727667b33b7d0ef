package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptrFilter(branches, tags []string) *RefFilter {
	return &RefFilter{Branches: branches, Tags: tags}
}

func TestShouldRun(t *testing.T) {
	trigger := Trigger{
		Push:        ptrFilter([]string{"main"}, []string{"v*.*.*"}),
		PullRequest: ptrFilter([]string{"main"}, nil),
	}

	cases := []struct {
		name string
		rc   RunContext
		want bool
	}{
		{
			name: "push to main",
			rc:   RunContext{Event: Push, Ref: "main", RefKind: Branch},
			want: true,
		},
		{
			name: "push to other branch",
			rc:   RunContext{Event: Push, Ref: "develop", RefKind: Branch},
			want: false,
		},
		{
			name: "branch name is exact match not glob",
			rc:   RunContext{Event: Push, Ref: "mainline", RefKind: Branch},
			want: false,
		},
		{
			name: "push of version tag",
			rc:   RunContext{Event: Push, Ref: "v1.2.3", RefKind: Tag},
			want: true,
		},
		{
			name: "push of non-version tag",
			rc:   RunContext{Event: Push, Ref: "nightly", RefKind: Tag},
			want: false,
		},
		{
			name: "tag pattern is anchored",
			rc:   RunContext{Event: Push, Ref: "xv1.2.3", RefKind: Tag},
			want: false,
		},
		{
			name: "pull request targeting main",
			rc:   RunContext{Event: PullRequest, Ref: "main", RefKind: Branch},
			want: true,
		},
		{
			name: "pull request targeting other branch",
			rc:   RunContext{Event: PullRequest, Ref: "develop", RefKind: Branch},
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldRun(trigger, tc.rc))
		})
	}
}

func TestShouldRun_NoClausesFailsClosed(t *testing.T) {
	rc := RunContext{Event: Push, Ref: "main", RefKind: Branch}
	assert.False(t, ShouldRun(Trigger{}, rc))
}

func TestShouldRun_BareClauseMatchesAnyRef(t *testing.T) {
	trigger := Trigger{Push: &RefFilter{}}
	assert.True(t, ShouldRun(trigger, RunContext{Event: Push, Ref: "anything", RefKind: Branch}))
	assert.True(t, ShouldRun(trigger, RunContext{Event: Push, Ref: "v9", RefKind: Tag}))
	assert.False(t, ShouldRun(trigger, RunContext{Event: PullRequest, Ref: "main", RefKind: Branch}))
}

func TestShouldRun_TagOnlyFilterIgnoresBranchPush(t *testing.T) {
	trigger := Trigger{Push: ptrFilter(nil, []string{"v*"})}
	assert.False(t, ShouldRun(trigger, RunContext{Event: Push, Ref: "v1", RefKind: Branch}))
	assert.True(t, ShouldRun(trigger, RunContext{Event: Push, Ref: "v1", RefKind: Tag}))
}

func TestShouldRun_RefsWithAwkwardCharacters(t *testing.T) {
	// Quoted YAML can put control characters, quotes, and backslashes into
	// ref entries; the compiled trigger must carry them verbatim instead of
	// choking (or worse, panicking) on an escaping layer.
	trigger := Trigger{Push: ptrFilter([]string{"main\n", `quo"te`, `back\slash`}, nil)}

	assert.False(t, ShouldRun(trigger, RunContext{Event: Push, Ref: "main", RefKind: Branch}))
	assert.True(t, ShouldRun(trigger, RunContext{Event: Push, Ref: "main\n", RefKind: Branch}))
	assert.True(t, ShouldRun(trigger, RunContext{Event: Push, Ref: `quo"te`, RefKind: Branch}))
	assert.True(t, ShouldRun(trigger, RunContext{Event: Push, Ref: `back\slash`, RefKind: Branch}))

	tagged := Trigger{Push: ptrFilter(nil, []string{"v*\t"})}
	assert.True(t, ShouldRun(tagged, RunContext{Event: Push, Ref: "v1\t", RefKind: Tag}))
	assert.False(t, ShouldRun(tagged, RunContext{Event: Push, Ref: "v1", RefKind: Tag}))
}

func TestRunContextLookup(t *testing.T) {
	rc := RunContext{Event: Push, Ref: "v1.0.0", RefKind: Tag, Actor: "dev"}

	for name, want := range map[string]string{
		"event":    "push",
		"ref":      "v1.0.0",
		"ref_kind": "tag",
		"actor":    "dev",
	} {
		got, ok := rc.Lookup(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := rc.Lookup("branch")
	assert.False(t, ok)
}

func TestRunContextValidate(t *testing.T) {
	valid := RunContext{Event: Push, Ref: "main", RefKind: Branch}
	assert.NoError(t, valid.Validate())

	assert.Error(t, RunContext{Event: "cron", Ref: "main", RefKind: Branch}.Validate())
	assert.Error(t, RunContext{Event: Push, Ref: "main", RefKind: "remote"}.Validate())
	assert.Error(t, RunContext{Event: Push, RefKind: Branch}.Validate())
}
