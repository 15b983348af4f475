package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/conftool-helper/internal/model"
	"github.com/sells-group/conftool-helper/internal/records"
	"github.com/sells-group/conftool-helper/internal/store"
)

const rawFixture = `paper_id;raw_name
1;Ada Lovelace (UCL)
2;Alan Turing, Cambridge
3;Grace Hopper
4;Ada Lovelace (UCL)
5;E. Dijkstra
6;Somebody Unknown
7;Nobody Known
`

var knownReviewers = map[string]model.Reviewer{
	"Ada Lovelace (UCL)":     {FirstName: "Ada", LastName: "Lovelace", Institution: "UCL", Email: "ada@ucl.ac.uk"},
	"Alan Turing, Cambridge": {FirstName: "Alan", LastName: "Turing", Institution: "Cambridge", Email: "alan@cam.ac.uk"},
	"Grace Hopper":           {FirstName: "Grace", LastName: "Hopper", Institution: "Yale", Email: "grace@yale.edu"},
	"E. Dijkstra":            {FirstName: "Edsger", LastName: "Dijkstra", Institution: "UT Austin", Email: "ewd@utexas.edu"},
}

func testPaths(t *testing.T) Paths {
	t.Helper()
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "output")

	p := Paths{
		Raw:           writeFile(t, filepath.Join(in, "mandatory_reviewers.csv"), rawFixture),
		Users:         writeFile(t, filepath.Join(in, "users_all.csv"), "name;email\nAda Lovelace;ada@ucl.ac.uk\nAlan Turing;alan@cam.ac.uk\n"),
		Submissions:   writeFile(t, filepath.Join(in, "submissions.csv"), "paperID;title\n1;Engines\n2;Computable Numbers\n3;Compilers\n5;Shortest Paths\n"),
		Roster:        writeFile(t, filepath.Join(in, "tpc_members.csv"), "name;email\nAlan Turing;ALAN@cam.ac.uk\n"),
		SystemPrompt:  writeFile(t, filepath.Join(in, "system.md"), "Users:\n<USER_DATA>\nPapers:\n<SUBMISSION_DETAILS>\n"),
		UserPrompt:    writeFile(t, filepath.Join(in, "user.md"), PlaceholderReviewers),
		Parsed:        filepath.Join(out, "mandatory_reviewers_parsed.csv"),
		Failed:        filepath.Join(out, "mandatory_reviewers_failed.csv"),
		Reconciled:    filepath.Join(out, "reviewers_all.csv"),
		Final:         filepath.Join(out, "reviewers_new.csv"),
		Conversations: filepath.Join(out, "conversations"),
	}
	return p
}

func newTestLedger(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	ledger := newTestLedger(t)
	o := echoOracle(knownReviewers)
	p := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, ledger)

	// First pass extracts, then stops because nobody has reconciled yet.
	_, err := p.Run(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, records.ErrNotFound)
	assert.Contains(t, err.Error(), paths.Reconciled)
	assert.Equal(t, 2, o.CallCount())
	assert.NoFileExists(t, paths.Final)

	parsed, err := records.Load(paths.Parsed, records.ExtractedSchema)
	require.NoError(t, err)
	failed, err := records.Load(paths.Failed, records.ExtractedSchema)
	require.NoError(t, err)
	assert.Len(t, parsed, 4)
	assert.Equal(t, []model.Reviewer{
		{PaperID: 6, RawName: "Somebody Unknown"},
		{PaperID: 7, RawName: "Nobody Known"},
	}, failed)
	assert.ElementsMatch(t, []string{
		"mandatory_reviewers-1-1.yaml",
		"mandatory_reviewers-2-1.yaml",
	}, listTranscripts(t, paths.Conversations))

	failedRuns, err := ledger.ListRuns(ctx, store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failedRuns, 1)
	assert.Contains(t, failedRuns[0].Error, "reconciled list missing")
	require.NotNil(t, failedRuns[0].Summary)
	assert.Equal(t, 7, failedRuns[0].Summary.RawEntries)
	assert.Equal(t, 6, failedRuns[0].Summary.UniqueEntries)
	assert.Equal(t, 2, failedRuns[0].Summary.Batches)

	attempts, err := ledger.ListAttempts(ctx, failedRuns[0].ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	// The operator accepts the parsed list as reconciled.
	writeFile(t, paths.Reconciled, string(readFile(t, paths.Parsed)))
	parsedBefore := readFile(t, paths.Parsed)
	failedBefore := readFile(t, paths.Failed)

	res, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFinished, res.Status)
	assert.Equal(t, 2, o.CallCount(), "resumed run must not call the oracle")
	assert.Equal(t, parsedBefore, readFile(t, paths.Parsed))
	assert.Equal(t, failedBefore, readFile(t, paths.Failed))

	final, err := records.Load(paths.Final, records.ExtractedSchema)
	require.NoError(t, err)
	require.Len(t, final, 3)
	for _, r := range final {
		assert.NotEqual(t, "alan@cam.ac.uk", r.Email)
	}

	assert.True(t, res.Summary.ExtractionSkipped)
	assert.Equal(t, 4, res.Summary.Reconciled)
	assert.Equal(t, 3, res.Summary.Final)

	run, err := ledger.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFinished, run.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 3, run.Summary.Final)
}

func TestRun_SystemPromptCoversWholeCorpus(t *testing.T) {
	paths := testPaths(t)
	o := echoOracle(knownReviewers)

	_, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, nil).Run(context.Background(), RunOptions{})
	require.ErrorIs(t, err, records.ErrNotFound)

	systems := o.SystemPrompts()
	require.Len(t, systems, 2)
	assert.Equal(t, systems[0], systems[1])

	// The second batch holds only paper 7, yet its system prompt carries
	// every user and every submission.
	assert.NotContains(t, o.UserPrompts()[1], "Dijkstra")
	for _, want := range []string{"ada@ucl.ac.uk", "alan@cam.ac.uk", "1;Engines", "3;Compilers", "5;Shortest Paths"} {
		assert.Contains(t, systems[1], want)
	}
	assert.Equal(t,
		"Users:\nname;email\nAda Lovelace;ada@ucl.ac.uk\nAlan Turing;alan@cam.ac.uk\n"+
			"Papers:\npaperID;title\n1;Engines\n2;Computable Numbers\n3;Compilers\n5;Shortest Paths\n",
		systems[0])
}

func TestRun_ExtractionCheck(t *testing.T) {
	paths := testPaths(t)
	o := echoOracle(knownReviewers)
	check := func() error { return errors.New("anthropic.key is required") }

	_, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, nil, WithExtractionCheck(check)).
		Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Equal(t, 0, o.CallCount())
	assert.NoFileExists(t, paths.Parsed)

	// Skipped extraction never consults the check.
	writeFile(t, paths.Parsed, "paper_id;raw_name;first_name;last_name;institution;email\n")
	writeFile(t, paths.Failed, "paper_id;raw_name;first_name;last_name;institution;email\n")
	writeFile(t, paths.Reconciled, "paper_id;raw_name;first_name;last_name;institution;email\n1;Ada;Ada;Lovelace;UCL;ada@ucl.ac.uk\n")

	res, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, nil, nil, WithExtractionCheck(check)).
		Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Summary.ExtractionSkipped)
	assert.Equal(t, 1, res.Summary.Final)
}

func TestRun_OverwriteReextracts(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	writeFile(t, paths.Parsed, "paper_id;raw_name;first_name;last_name;institution;email\n")
	writeFile(t, paths.Failed, "paper_id;raw_name;first_name;last_name;institution;email\n")
	writeFile(t, paths.Reconciled, "paper_id;raw_name;first_name;last_name;institution;email\n1;Ada;Ada;Lovelace;UCL;ada@ucl.ac.uk\n")
	o := echoOracle(knownReviewers)
	p := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, nil)

	res, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, o.CallCount())
	assert.True(t, res.Summary.ExtractionSkipped)

	res, err = p.Run(ctx, RunOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 2, o.CallCount())
	assert.False(t, res.Summary.ExtractionSkipped)
	assert.Equal(t, 4, res.Summary.Succeeded)
	assert.Equal(t, 2, res.Summary.Failed)
	assert.Equal(t, 200, res.Summary.Usage.InputTokens)

	parsed, err := records.Load(paths.Parsed, records.ExtractedSchema)
	require.NoError(t, err)
	assert.Len(t, parsed, 4)
}

func TestRun_OnlyOneOutputTriggersExtraction(t *testing.T) {
	paths := testPaths(t)
	writeFile(t, paths.Parsed, "paper_id;raw_name;first_name;last_name;institution;email\n")
	writeFile(t, paths.Reconciled, "paper_id;raw_name;first_name;last_name;institution;email\n")
	o := echoOracle(knownReviewers)

	_, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, nil).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, o.CallCount())
	assert.FileExists(t, paths.Failed)
}

func TestRun_MissingRawIsFatal(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.Remove(paths.Raw))
	o := echoOracle(nil)

	_, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, nil).Run(context.Background(), RunOptions{})

	var nf *records.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, 0, o.CallCount())
	assert.NoFileExists(t, paths.Parsed)
}

func TestRun_MissingUsersIsFatal(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.Remove(paths.Users))
	o := echoOracle(nil)

	_, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, nil).Run(context.Background(), RunOptions{})

	assert.ErrorIs(t, err, records.ErrNotFound)
	assert.Equal(t, 0, o.CallCount())
	assert.NoFileExists(t, paths.Parsed)
	assert.NoFileExists(t, paths.Failed)
}

func TestRun_MissingPaperIDColumnIsFatal(t *testing.T) {
	paths := testPaths(t)
	o := echoOracle(nil)

	_, err := New(Config{Paths: paths, PaperIDColumn: "paper_number"}, o, nil).Run(context.Background(), RunOptions{})

	var schemaErr *records.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "paper_number", schemaErr.Column)
	assert.Equal(t, 0, o.CallCount())
}

func TestRun_AbsentResponseStopsBeforeWriting(t *testing.T) {
	paths := testPaths(t)
	o := stubOracle("", false, nil)

	_, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, nil).Run(context.Background(), RunOptions{})

	var oerr *OracleError
	require.True(t, errors.As(err, &oerr))
	assert.NoFileExists(t, paths.Parsed)
	assert.NoFileExists(t, paths.Failed)
	assert.NoFileExists(t, paths.Final)
}

type brokenLedger struct {
	store.NopStore
}

func (brokenLedger) CreateRun(context.Context, string, bool) (*model.Run, error) {
	return nil, errors.New("database is locked")
}

func (brokenLedger) UpdateRunStatus(context.Context, string, model.RunStatus) error {
	return errors.New("database is locked")
}

func TestRun_LedgerFailuresAreNotFatal(t *testing.T) {
	paths := testPaths(t)
	writeFile(t, paths.Reconciled, "paper_id;raw_name;first_name;last_name;institution;email\n2;x;Alan;Turing;;alan@cam.ac.uk\n5;y;Edsger;Dijkstra;;ewd@utexas.edu\n")
	o := echoOracle(knownReviewers)

	res, err := New(Config{Paths: paths, PaperIDColumn: "paperID"}, o, brokenLedger{}).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Summary.Final)
}
