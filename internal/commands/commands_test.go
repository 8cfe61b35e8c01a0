package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"weeklet/internal/app"
	"weeklet/internal/commands"
	"weeklet/internal/config"
	"weeklet/internal/exitcode"
	"weeklet/internal/kv"
	"weeklet/internal/logging"
	"weeklet/internal/records"
	"weeklet/internal/service"
	"weeklet/internal/testutil"
)

var base = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

// setup fixes today to Wednesday 2024-01-03 and returns an app over a fake
// synchronized store.
func setup(t *testing.T) (*app.App, *testutil.FakeBackend) {
	t.Helper()
	primary := testutil.NewFakeBackend(kv.AreaSync)
	cfg := config.Defaults(t.TempDir())
	ctx := context.Background()
	a, err := app.New(ctx, cfg,
		app.WithLogger(logging.Discard()),
		app.WithClock(wednesdayNoon),
		app.WithBackends(primary, kv.NewMemoryBackend(kv.AreaLocal)))
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(ctx) })
	return a, primary
}

func wednesdayNoon() time.Time {
	return time.Date(2024, 1, 3, 12, 0, 0, 0, time.Local)
}

// seedWeek stores tasks on Monday and Wednesday of the week of 2024-01-01.
func seedWeek(primary *testutil.FakeBackend) {
	primary.Put(records.TasksKey("2024-01-01"), []service.Task{
		{ID: "t1", Title: "Plan the week", Done: true, CreatedAt: base},
		{ID: "t2", Title: "Gym", Priority: service.PriorityMedium, CreatedAt: base.Add(time.Hour)},
	})
	primary.Put(records.TasksKey("2024-01-03"), []service.Task{
		{ID: "t3", Title: "Pay rent", Priority: service.PriorityHigh, CreatedAt: base},
	})
}

func runCommand(t *testing.T, cmd commands.Command, a *app.App, args []string, quiet bool) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cfg := &config.Config{Dir: t.TempDir(), Quiet: quiet}
	code := cmd.Run(context.Background(), cfg, a, args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func storedTasks(t *testing.T, primary *testutil.FakeBackend, day string) []service.Task {
	t.Helper()
	raw, _ := primary.Value(records.TasksKey(day))
	tasks, err := records.DecodeTasks(raw)
	if err != nil {
		t.Fatalf("failed to decode stored tasks: %v", err)
	}
	return tasks
}

func TestVersionCommand(t *testing.T) {
	stdout, stderr, code := runCommand(t, &commands.VersionCmd{}, nil, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	expected := "weeklet " + commands.Version + "\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
}

func TestHelpCommand(t *testing.T) {
	stdout, _, code := runCommand(t, &commands.HelpCmd{}, nil, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	for _, name := range []string{"list", "add", "done", "rm", "settings", "export", "watch", "popup"} {
		if !strings.Contains(stdout, "weeklet "+name) {
			t.Errorf("expected help to mention %q", name)
		}
	}
}

func TestRegistryHasEveryCommand(t *testing.T) {
	var names []string
	for _, cmd := range commands.DefaultRegistry.All() {
		names = append(names, cmd.Name())
	}
	expected := "add done export help list login logout popup rm settings version watch"
	if got := strings.Join(names, " "); got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}

	if cmd, ok := commands.DefaultRegistry.Find("toggle"); !ok || cmd.Name() != "done" {
		t.Error("expected toggle to be an alias of done")
	}
}

// Tests for list command
func TestListCommand_Week(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	stdout, stderr, code := runCommand(t, &commands.ListCmd{}, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	testutil.GoldenString(t, "list_week", stdout)
}

func TestListCommand_CompactMode(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)
	primary.Put(records.SettingsKey, map[string]any{"compactMode": true})

	stdout, _, code := runCommand(t, &commands.ListCmd{}, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	testutil.GoldenString(t, "list_week_compact", stdout)
}

func TestListCommand_SundayStart(t *testing.T) {
	a, primary := setup(t)
	primary.Put(records.SettingsKey, map[string]any{"startOfWeek": "Sun"})
	primary.Put(records.TasksKey("2024-01-07"), []service.Task{{ID: "s", Title: "Brunch", CreatedAt: base}})

	cmd := &commands.ListCmd{}
	cmd.SetDay("2024-01-10")
	stdout, _, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	expected := "Week of Jan 7-13, 2024\n\n------------\na  Sun 2024-01-07\n------------\n       1  [ ] Brunch\n"
	if !strings.HasPrefix(stdout, expected) {
		t.Errorf("expected output to start with %q, got %q", expected, stdout)
	}
}

func TestListCommand_Empty(t *testing.T) {
	a, _ := setup(t)

	stdout, stderr, code := runCommand(t, &commands.ListCmd{}, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "no tasks found\n" {
		t.Errorf("expected %q, got %q", "no tasks found\n", stdout)
	}
}

func TestListCommand_EmptyQuiet(t *testing.T) {
	a, _ := setup(t)

	stdout, _, code := runCommand(t, &commands.ListCmd{}, a, nil, true)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	// Quiet mode should suppress "no tasks found"
	if stdout != "" {
		t.Errorf("expected empty stdout in quiet mode, got %q", stdout)
	}
}

func TestListCommand_InvalidDay(t *testing.T) {
	a, _ := setup(t)

	cmd := &commands.ListCmd{}
	cmd.SetDay("2024-13-01")
	_, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: invalid day: 2024-13-01 (want YYYY-MM-DD)\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

func TestListCommand_UnexpectedArgument(t *testing.T) {
	a, _ := setup(t)

	_, stderr, code := runCommand(t, &commands.ListCmd{}, a, []string{"Shopping"}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: unexpected argument: Shopping\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

// Tests for add command
func TestAddCommand_Success(t *testing.T) {
	a, primary := setup(t)

	cmd := &commands.AddCmd{}
	cmd.SetPriority("high")
	stdout, stderr, code := runCommand(t, cmd, a, []string{"Buy", "milk"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected %q, got %q", "ok\n", stdout)
	}

	tasks := storedTasks(t, primary, "2024-01-03")
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task today, got %d", len(tasks))
	}
	if tasks[0].Title != "Buy milk" || tasks[0].Priority != service.PriorityHigh {
		t.Errorf("unexpected task: %+v", tasks[0])
	}
	if tasks[0].ID == "" {
		t.Error("expected the task to get an ID")
	}
}

func TestAddCommand_Quiet(t *testing.T) {
	a, _ := setup(t)

	stdout, _, code := runCommand(t, &commands.AddCmd{}, a, []string{"Buy milk"}, true)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "" {
		t.Errorf("expected empty stdout in quiet mode, got %q", stdout)
	}
}

func TestAddCommand_ToSpecificDay(t *testing.T) {
	a, primary := setup(t)

	cmd := &commands.AddCmd{}
	cmd.SetDay("tomorrow")
	_, _, code := runCommand(t, cmd, a, []string{"Dentist"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if tasks := storedTasks(t, primary, "2024-01-04"); len(tasks) != 1 {
		t.Errorf("expected 1 task tomorrow, got %d", len(tasks))
	}
}

func TestAddCommand_NoTitle(t *testing.T) {
	a, primary := setup(t)

	stdout, stderr, code := runCommand(t, &commands.AddCmd{}, a, []string{"  "}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout, got %q", stdout)
	}
	expected := "error: title required\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
	if len(primary.SetCalls()) != 0 {
		t.Error("expected nothing to be written")
	}
}

func TestAddCommand_InvalidPriority(t *testing.T) {
	a, _ := setup(t)

	cmd := &commands.AddCmd{}
	cmd.SetPriority("urgent")
	_, stderr, code := runCommand(t, cmd, a, []string{"Call"}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: invalid priority: urgent\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

func TestAddCommand_WriteFailure(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)
	primary.SetErr = testutil.ErrInjected

	stdout, stderr, code := runCommand(t, &commands.AddCmd{}, a, []string{"Buy milk"}, false)

	if code != exitcode.BackendError {
		t.Errorf("expected exit code %d, got %d", exitcode.BackendError, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout, got %q", stdout)
	}
	if !strings.HasPrefix(stderr, "error: backend error: ") {
		t.Errorf("expected backend error, got %q", stderr)
	}
	if tasks := storedTasks(t, primary, "2024-01-03"); len(tasks) != 1 {
		t.Errorf("expected stored tasks to be unchanged, got %d", len(tasks))
	}
}

// Tests for done command
func TestDoneCommand_Success(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	stdout, stderr, code := runCommand(t, &commands.DoneCmd{}, a, []string{"1"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected %q, got %q", "ok\n", stdout)
	}
	if tasks := storedTasks(t, primary, "2024-01-03"); !tasks[0].Done {
		t.Error("expected task to be completed")
	}
}

func TestDoneCommand_TogglesBack(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	// a2 is "Plan the week", already done.
	_, _, code := runCommand(t, &commands.DoneCmd{}, a, []string{"a2"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	tasks := storedTasks(t, primary, "2024-01-01")
	if tasks[0].ID != "t1" || tasks[0].Done {
		t.Errorf("expected t1 to be reopened, got %+v", tasks[0])
	}
}

func TestDoneCommand_SeveralRefs(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	_, _, code := runCommand(t, &commands.DoneCmd{}, a, []string{"a", "1", "c1"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if tasks := storedTasks(t, primary, "2024-01-01"); !tasks[1].Done {
		t.Error("expected Gym to be completed")
	}
	if tasks := storedTasks(t, primary, "2024-01-03"); !tasks[0].Done {
		t.Error("expected Pay rent to be completed")
	}
	if n := len(primary.SetCalls()); n != 1 {
		t.Errorf("expected both days in one write, got %d writes", n)
	}
}

func TestDoneCommand_NoRef(t *testing.T) {
	a, _ := setup(t)

	_, stderr, code := runCommand(t, &commands.DoneCmd{}, a, nil, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: task reference required\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

func TestDoneCommand_InvalidRef(t *testing.T) {
	a, _ := setup(t)

	_, stderr, code := runCommand(t, &commands.DoneCmd{}, a, []string{"xyz"}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: invalid task reference: xyz\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

func TestDoneCommand_OutOfRange(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	_, stderr, code := runCommand(t, &commands.DoneCmd{}, a, []string{"5"}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: task number out of range: 5\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

func TestDoneCommand_DayFlagAndLetter(t *testing.T) {
	a, _ := setup(t)

	cmd := &commands.DoneCmd{}
	cmd.SetDay("2024-01-03")
	_, stderr, code := runCommand(t, cmd, a, []string{"a1"}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: cannot use both --day and day letter\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

// Tests for rm command
func TestRmCommand_Success(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	cmd := &commands.RmCmd{}
	cmd.SetDay("2024-01-01")
	stdout, _, code := runCommand(t, cmd, a, []string{"1"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "ok\n" {
		t.Errorf("expected %q, got %q", "ok\n", stdout)
	}
	tasks := storedTasks(t, primary, "2024-01-01")
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("expected only t1 to remain, got %+v", tasks)
	}
}

func TestRmCommand_NoRef(t *testing.T) {
	a, _ := setup(t)

	_, stderr, code := runCommand(t, &commands.RmCmd{}, a, []string{"b"}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: invalid task reference: b\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

func TestRmCommand_WriteFailure(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)
	primary.SetErr = testutil.ErrInjected

	_, stderr, code := runCommand(t, &commands.RmCmd{}, a, []string{"1"}, false)

	if code != exitcode.BackendError {
		t.Errorf("expected exit code %d, got %d", exitcode.BackendError, code)
	}
	if !strings.HasPrefix(stderr, "error: backend error: ") {
		t.Errorf("expected backend error, got %q", stderr)
	}
}

// Tests for settings command
func TestSettingsCommand_Show(t *testing.T) {
	a, primary := setup(t)
	primary.Put(records.SettingsKey, map[string]any{"startOfWeek": "Sun"})

	stdout, _, code := runCommand(t, &commands.SettingsCmd{}, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	expected := "startOfWeek      Sun\nrolloverDefault  true\ncompactMode      false\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
}

func TestSettingsCommand_Set(t *testing.T) {
	a, primary := setup(t)

	stdout, _, code := runCommand(t, &commands.SettingsCmd{}, a, []string{"startOfWeek=sunday", "compactMode=true"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "ok\n" {
		t.Errorf("expected %q, got %q", "ok\n", stdout)
	}

	raw, _ := primary.Value(records.SettingsKey)
	var got service.Settings
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("failed to decode settings: %v", err)
	}
	expected := service.Settings{StartOfWeek: service.Sunday, RolloverDefault: true, CompactMode: true}
	if got != expected {
		t.Errorf("expected %+v, got %+v", expected, got)
	}
}

func TestSettingsCommand_Invalid(t *testing.T) {
	tests := []struct {
		arg  string
		want string
	}{
		{"colour=blue", "error: unknown setting: colour\n"},
		{"compactMode", "error: invalid setting: compactMode (want name=value)\n"},
		{"compactMode=maybe", "error: invalid value for compactMode: maybe\n"},
		{"startOfWeek=Wed", "error: invalid value for startOfWeek: Wed (want Mon or Sun)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			a, _ := setup(t)

			_, stderr, code := runCommand(t, &commands.SettingsCmd{}, a, []string{tt.arg}, false)

			if code != exitcode.UserError {
				t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
			}
			if stderr != tt.want {
				t.Errorf("expected %q, got %q", tt.want, stderr)
			}
		})
	}
}

// Tests for export command
func TestExportCommand_JSON(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	stdout, _, code := runCommand(t, &commands.ExportCmd{}, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	var doc struct {
		Week string `json:"week"`
		Days []struct {
			Day   string         `json:"day"`
			Tasks []service.Task `json:"tasks"`
		} `json:"days"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if doc.Week != "Week of Jan 1-7, 2024" || len(doc.Days) != 7 {
		t.Fatalf("unexpected export: %+v", doc)
	}
	if doc.Days[0].Tasks[0].Title != "Gym" {
		t.Errorf("expected tasks in display order, got %+v", doc.Days[0].Tasks)
	}
}

func TestExportCommand_YAML(t *testing.T) {
	a, primary := setup(t)
	seedWeek(primary)

	cmd := &commands.ExportCmd{}
	cmd.SetFormat("yaml")
	stdout, _, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if !strings.HasPrefix(stdout, "week: Week of Jan 1-7, 2024\n") {
		t.Errorf("unexpected yaml export: %q", stdout)
	}
	if !strings.Contains(stdout, "title: Pay rent") {
		t.Errorf("expected yaml export to contain the tasks, got %q", stdout)
	}
}

func TestExportCommand_UnknownFormat(t *testing.T) {
	a, _ := setup(t)

	cmd := &commands.ExportCmd{}
	cmd.SetFormat("csv")
	_, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: unknown format: csv (want json or yaml)\n"
	if stderr != expected {
		t.Errorf("expected %q, got %q", expected, stderr)
	}
}

// Tests for watch command
func TestWatchCommand_PrintsChanges(t *testing.T) {
	a, primary := setup(t)

	cmd := &commands.WatchCmd{}
	cmd.SetDuration(500 * time.Millisecond)

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		cfg := &config.Config{Dir: t.TempDir(), Quiet: true}
		done <- cmd.Run(context.Background(), cfg, a, nil, &stdout, &stderr)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for primary.WatchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	value, _ := json.Marshal([]service.Task{{ID: "x", Title: "From phone"}})
	primary.Emit(kv.Change{
		Area:    kv.AreaSync,
		Changes: map[string]kv.ValueChange{records.TasksKey("2024-01-01"): {NewValue: value}},
	})

	if code := <-done; code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	expected := "changed  Mon 2024-01-01 (0/1 done)\n"
	if stdout.String() != expected {
		t.Errorf("expected %q, got %q", expected, stdout.String())
	}
}
