package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/term"

	"task-tracker/internal/client"
	"task-tracker/internal/ui"
)

// Options carries the session and streams a command runs against.
type Options struct {
	Session *client.Session
	Out     io.Writer
	Err     io.Writer
	In      io.Reader
	// RunUI starts the interactive view. Nil disables `ui`.
	RunUI func(ctx context.Context, sess *client.Session) error
}

type runner struct {
	ctx  context.Context
	opt  Options
	in   *bufio.Reader
	sess *client.Session
	api  *client.Client
}

// Run dispatches subcommands and returns an exit code (0 ok, 1 error, 2 usage).
func Run(ctx context.Context, args []string, opt Options) int {
	if len(args) == 0 {
		PrintHelp(opt.Out)
		return 2
	}
	if opt.In == nil {
		opt.In = strings.NewReader("")
	}
	r := &runner{
		ctx:  ctx,
		opt:  opt,
		in:   bufio.NewReader(opt.In),
		sess: opt.Session,
		api:  opt.Session.Client(),
	}
	cmd, a := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		PrintHelp(opt.Out)
		return 0
	case "health":
		return r.doHealth()
	case "register":
		return r.doRegister(a)
	case "login":
		return r.doLogin(a)
	case "logout":
		return r.doLogout()
	case "whoami":
		return r.doWhoami()
	case "ls":
		return r.doList(a)
	case "add":
		return r.doAdd(a)
	case "show":
		return r.doShow(a)
	case "edit":
		return r.doEdit(a)
	case "status":
		return r.doStatus(a)
	case "rm":
		return r.doRemove(a)
	case "ui":
		return r.doUI()
	}

	ui.Fail(opt.Err, "unknown subcommand: "+cmd)
	fmt.Fprintln(opt.Err)
	PrintHelp(opt.Err)
	return 2
}

func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `taskctl - task tracker client

Usage:
  taskctl <subcommand> [args]

Account:
  register [--name N --email E --password P]   Create an account and log in
  login [--email E --password P]               Log in (prompts for missing values)
  logout                                       Forget the stored token
  whoami                                       Show the logged in user

Tasks:
  ls [--page N --limit N --search S --status S]
  add <title...> [--desc D --status S]
  show <id>
  edit <id> [--title T --desc D --status S]
  status <id> <Pending|In Progress|Completed>
  rm <id>
  ui                                           Interactive list

Other:
  health                                       Check the server

Environment:
  TASKTRACKER_API_URL   API base URL (default http://localhost:8080/api)
  TASKTRACKER_TOKEN     Use this token instead of the stored one
`)
}

// -------------- account ----------------

func (r *runner) doHealth() int {
	msg, err := r.api.Health(r.ctx)
	if err != nil {
		return r.fail(err)
	}
	ui.OK(r.opt.Out, msg)
	return 0
}

func (r *runner) doRegister(args []string) int {
	fs := r.flagSet("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (min 6 characters)")
	if _, err := parseArgs(fs, args); err != nil {
		return 2
	}

	*name = r.prompt("Name", *name)
	*email = r.prompt("Email", *email)
	*password = r.promptSecret("Password", *password)

	user, err := r.sess.Register(r.ctx, *name, *email, *password)
	if err != nil {
		return r.fail(err)
	}
	ui.OK(r.opt.Out, fmt.Sprintf("registered and logged in as %s <%s>", user.Name, user.Email))
	return 0
}

func (r *runner) doLogin(args []string) int {
	fs := r.flagSet("login")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if _, err := parseArgs(fs, args); err != nil {
		return 2
	}

	*email = r.prompt("Email", *email)
	*password = r.promptSecret("Password", *password)

	user, err := r.sess.Login(r.ctx, *email, *password)
	if err != nil {
		return r.fail(err)
	}
	ui.OK(r.opt.Out, fmt.Sprintf("logged in as %s <%s>", user.Name, user.Email))
	return 0
}

func (r *runner) doLogout() int {
	if err := r.sess.Logout(); err != nil {
		return r.fail(err)
	}
	ui.OK(r.opt.Out, "logged out")
	return 0
}

func (r *runner) doWhoami() int {
	if code := r.requireSession(); code != 0 {
		return code
	}
	user := r.sess.User()
	fmt.Fprintf(r.opt.Out, "%s <%s>  %s\n", ui.TitleStyle.Render(user.Name), user.Email,
		ui.MutedStyle.Render(fmt.Sprintf("id %d, since %s", user.ID, user.CreatedAt.Local().Format("2006-01-02"))))
	return 0
}

// -------------- tasks ----------------

func (r *runner) doList(args []string) int {
	fs := r.flagSet("ls")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 10, "tasks per page (max 50)")
	search := fs.String("search", "", "match title or description")
	status := fs.String("status", "", "Pending, In Progress or Completed")
	if _, err := parseArgs(fs, args); err != nil {
		return 2
	}
	statusFilter := ""
	if *status != "" && !strings.EqualFold(*status, client.StatusAll) {
		s, ok := client.NormalizeStatus(*status)
		if !ok {
			ui.Fail(r.opt.Err, "ls: unknown status: "+*status)
			return 2
		}
		statusFilter = s
	}

	if code := r.requireSession(); code != 0 {
		return code
	}
	res, err := r.api.ListTasks(r.ctx, client.ListParams{
		Page:   *page,
		Limit:  *limit,
		Search: *search,
		Status: statusFilter,
	})
	if err != nil {
		return r.fail(err)
	}

	completed := 0
	for _, t := range res.Tasks {
		if t.Status == "Completed" {
			completed++
		}
	}
	header := fmt.Sprintf("%s  %s %d  %s",
		ui.TitleStyle.Render("Tasks"),
		ui.AccentStyle.Render("Total"), res.Total,
		ui.MutedStyle.Render(fmt.Sprintf("page %d/%d", res.Page, res.TotalPages)),
	)

	lines := []string{header}
	if len(res.Tasks) > 0 {
		lines = append(lines, ui.MutedStyle.Render(ui.ProgressBar(completed, len(res.Tasks), 28)))
	}
	lines = append(lines, "")
	if len(res.Tasks) == 0 {
		lines = append(lines, ui.MutedStyle.Render("no tasks"))
	}
	for _, t := range res.Tasks {
		lines = append(lines, taskLine(t))
	}
	if res.HasMore {
		lines = append(lines, "", ui.MutedStyle.Render(fmt.Sprintf("more: taskctl ls --page %d", res.Page+1)))
	}
	fmt.Fprintln(r.opt.Out, ui.Panel(lines))
	return 0
}

func (r *runner) doAdd(args []string) int {
	fs := r.flagSet("add")
	desc := fs.String("desc", "", "description")
	status := fs.String("status", "", "initial status")
	rest, err := parseArgs(fs, args)
	if err != nil {
		return 2
	}
	title := strings.TrimSpace(strings.Join(rest, " "))
	if title == "" {
		ui.Fail(r.opt.Err, "usage: taskctl add <title...> [--desc D --status S]")
		return 2
	}

	input := client.TaskInput{Title: &title}
	if *desc != "" {
		input.Description = desc
	}
	if *status != "" {
		s, ok := client.NormalizeStatus(*status)
		if !ok {
			ui.Fail(r.opt.Err, "add: unknown status: "+*status)
			return 2
		}
		input.Status = &s
	}

	if code := r.requireSession(); code != 0 {
		return code
	}
	task, err := r.api.CreateTask(r.ctx, input)
	if err != nil {
		return r.fail(err)
	}
	ui.OK(r.opt.Out, fmt.Sprintf("added #%d %s", task.ID, task.Title))
	return 0
}

func (r *runner) doShow(args []string) int {
	if len(args) != 1 {
		ui.Fail(r.opt.Err, "usage: taskctl show <id>")
		return 2
	}
	id, ok := r.parseID("show", args[0])
	if !ok {
		return 2
	}

	if code := r.requireSession(); code != 0 {
		return code
	}
	task, err := r.api.GetTask(r.ctx, id)
	if err != nil {
		return r.fail(err)
	}

	lines := []string{
		fmt.Sprintf("%s %s", ui.MutedStyle.Render(fmt.Sprintf("#%d", task.ID)), ui.TitleStyle.Render(task.Title)),
		ui.Status(task.Status),
	}
	if task.Description != "" {
		lines = append(lines, "", task.Description)
	}
	lines = append(lines, "",
		ui.MutedStyle.Render("created "+task.CreatedAt.Local().Format("2006-01-02 15:04")),
		ui.MutedStyle.Render("updated "+task.UpdatedAt.Local().Format("2006-01-02 15:04")),
	)
	fmt.Fprintln(r.opt.Out, ui.Panel(lines))
	return 0
}

func (r *runner) doEdit(args []string) int {
	fs := r.flagSet("edit")
	title := fs.String("title", "", "new title")
	desc := fs.String("desc", "", "new description (empty clears it)")
	status := fs.String("status", "", "new status")
	rest, err := parseArgs(fs, args)
	if err != nil {
		return 2
	}
	if len(rest) != 1 {
		ui.Fail(r.opt.Err, "usage: taskctl edit <id> [--title T --desc D --status S]")
		return 2
	}
	id, ok := r.parseID("edit", rest[0])
	if !ok {
		return 2
	}

	var input client.TaskInput
	var badStatus bool
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			input.Title = title
		case "desc":
			input.Description = desc
		case "status":
			s, ok := client.NormalizeStatus(*status)
			if !ok {
				badStatus = true
				return
			}
			input.Status = &s
		}
	})
	if badStatus {
		ui.Fail(r.opt.Err, "edit: unknown status: "+*status)
		return 2
	}
	return r.update(id, input, "updated")
}

func (r *runner) doStatus(args []string) int {
	if len(args) < 2 {
		ui.Fail(r.opt.Err, "usage: taskctl status <id> <Pending|In Progress|Completed>")
		return 2
	}
	id, ok := r.parseID("status", args[0])
	if !ok {
		return 2
	}
	raw := strings.Join(args[1:], " ")
	s, ok := client.NormalizeStatus(raw)
	if !ok {
		ui.Fail(r.opt.Err, "status: unknown status: "+raw)
		return 2
	}
	return r.update(id, client.TaskInput{Status: &s}, "marked "+s)
}

func (r *runner) update(id int64, input client.TaskInput, verb string) int {
	if code := r.requireSession(); code != 0 {
		return code
	}
	task, err := r.api.UpdateTask(r.ctx, id, input)
	if err != nil {
		return r.fail(err)
	}
	ui.OK(r.opt.Out, fmt.Sprintf("%s #%d %s", verb, task.ID, task.Title))
	return 0
}

func (r *runner) doRemove(args []string) int {
	if len(args) != 1 {
		ui.Fail(r.opt.Err, "usage: taskctl rm <id>")
		return 2
	}
	id, ok := r.parseID("rm", args[0])
	if !ok {
		return 2
	}

	if code := r.requireSession(); code != 0 {
		return code
	}
	if err := r.api.DeleteTask(r.ctx, id); err != nil {
		return r.fail(err)
	}
	ui.OK(r.opt.Out, fmt.Sprintf("removed #%d", id))
	return 0
}

func (r *runner) doUI() int {
	if r.opt.RunUI == nil {
		ui.Fail(r.opt.Err, "interactive mode is not available")
		return 1
	}
	if code := r.requireSession(); code != 0 {
		return code
	}
	if err := r.opt.RunUI(r.ctx, r.sess); err != nil {
		return r.fail(err)
	}
	return 0
}

// -------------- helpers ----------------

func (r *runner) requireSession() int {
	if r.sess.State() == client.Authenticated {
		return 0
	}
	if err := r.sess.Restore(r.ctx); err != nil {
		return r.fail(err)
	}
	if r.sess.State() != client.Authenticated {
		ui.Fail(r.opt.Err, "not logged in, run `taskctl login` first")
		return 1
	}
	return 0
}

func (r *runner) fail(err error) int {
	err = r.sess.Check(err)
	ui.Fail(r.opt.Err, err.Error())
	if errors.Is(err, client.ErrSessionExpired) {
		fmt.Fprintln(r.opt.Err, ui.MutedStyle.Render("Hint: run `taskctl login`"))
	}
	return 1
}

func (r *runner) prompt(label, current string) string {
	if current != "" {
		return current
	}
	fmt.Fprintf(r.opt.Out, "%s: ", label)
	line, _ := r.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// Swapped in tests.
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

// promptSecret reads without echo when stdin is a terminal.
func (r *runner) promptSecret(label, current string) string {
	if current != "" {
		return current
	}
	f, ok := r.opt.In.(interface{ Fd() uintptr })
	if !ok || !isTerminal(f.Fd()) {
		return r.prompt(label, current)
	}
	fmt.Fprintf(r.opt.Out, "%s: ", label)
	secret, err := readPassword(f.Fd())
	fmt.Fprintln(r.opt.Out)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(secret))
}

func (r *runner) parseID(cmd, raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		ui.Fail(r.opt.Err, cmd+": not a task id: "+raw)
		return 0, false
	}
	return id, true
}

func (r *runner) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(r.opt.Err)
	return fs
}

// parseArgs lets flags and positional arguments interleave.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func taskLine(t client.Task) string {
	title := t.Title
	if t.Status == "Completed" {
		title = ui.DoneStyle.Render(title)
	}
	return fmt.Sprintf("%s  %-16s  %s",
		ui.MutedStyle.Render(fmt.Sprintf("#%-4d", t.ID)),
		ui.Status(t.Status),
		title,
	)
}
