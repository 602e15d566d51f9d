package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
)

// Page names.
const (
	pageConversations = views.PageConversations
	pageThread        = views.PageThread
	pageDetails       = views.PageDetails
	pageHelp          = views.PageHelp
	pageSearch        = views.PageSearch
)

const (
	headerHeight = 7
	promptHeight = 3

	// statusInterval refreshes uptime and counters between events.
	statusInterval = 10 * time.Second
	// watchRetry is the delay before reopening a failed event stream.
	watchRetry = 2 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	root     *tview.Flex
	pages    *ui.Pages
	vm       *model.ViewModel
	client   *api.Client
	registry *keys.Registry

	profileInfo *ui.ProfileInfo
	menu        *ui.Menu
	logo        *ui.Logo
	crumbs      *ui.Crumbs
	flashBar    *ui.FlashBar
	prompt      *ui.Prompt

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	help    *views.HelpView
	search  *views.SearchView

	components   map[string]ui.Component
	promptActive bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApp creates the TUI application on top of a connected daemon client.
func NewApp(c *api.Client) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:         tview.NewApplication(),
		theme:       theme,
		pages:       ui.NewPages(),
		vm:          model.NewViewModel(c),
		client:      c,
		registry:    keys.NewRegistry(),
		profileInfo: ui.NewProfileInfo(theme),
		menu:        ui.NewMenu(theme),
		logo:        ui.NewLogo(theme),
		crumbs:      ui.NewCrumbs(theme),
		flashBar:    ui.NewFlashBar(theme),
		prompt:      ui.NewPrompt(theme),
		list:        views.NewConversationList(theme),
		thread:      views.NewMessageThread(theme),
		details:     views.NewConversationInfo(theme),
		help:        views.NewHelpView(theme),
		search:      views.NewSearchView(theme),
		ctx:         ctx,
		cancel:      cancel,
	}
	a.components = make(map[string]ui.Component)
	for _, c := range []ui.Component{a.list, a.thread, a.details, a.help, a.search} {
		a.components[c.Page()] = c
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	key := func(r rune, desc string, fn func()) *keys.Action {
		return &keys.Action{Key: tcell.KeyRune, Rune: r, Description: desc, Handler: fn}
	}

	a.registry.AddGlobal("command", key(':', "Command", func() { a.activatePrompt(ui.PromptCommand) }))
	a.registry.AddGlobal("help", key('?', "Help", func() { a.push(pageHelp) }))
	a.registry.AddGlobal("back", &keys.Action{Key: tcell.KeyEscape, Description: "Back", Handler: a.back})
	a.registry.AddGlobal("quit", key('q', "Quit", func() {
		if a.pages.Depth() > 1 {
			a.back()
			return
		}
		a.Stop()
	}))

	a.registry.AddView(pageConversations, "filter", key('/', "Filter", func() { a.activatePrompt(ui.PromptFilter) }))
	a.registry.AddView(pageConversations, "pin", key('p', "Pin/Unpin", func() {
		a.withSelected(func(c store.Conversation) error { return a.vm.SetPinned(a.ctx, c.ID, !c.IsPinned) })
	}))
	a.registry.AddView(pageConversations, "archive", key('a', "Archive/Restore", func() {
		a.withSelected(func(c store.Conversation) error { return a.vm.SetArchived(a.ctx, c.ID, !c.IsArchived) })
	}))
	a.registry.AddView(pageConversations, "archived", key('A', "Archived", func() {
		a.async(func() error { return a.vm.ToggleArchived(a.ctx) })
	}))
	a.registry.AddView(pageConversations, "refresh", key('r', "Refresh", func() { a.refresh() }))
	a.registry.AddView(pageConversations, "details", key('d', "Details", func() {
		if c, ok := a.list.SelectedConversation(); ok {
			a.showDetails(c)
		}
	}))

	a.registry.AddView(pageThread, "compose", key('i', "Compose", func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddView(pageThread, "details", key('d', "Details", func() {
		if c, ok := a.vm.Active(); ok {
			a.showDetails(c)
		}
	}))
	a.registry.AddView(pageThread, "retry", key('R', "Retry history", func() {
		a.async(func() error { return a.vm.RetryHistory(a.ctx) })
	}))
	a.registry.AddView(pageThread, "clear-reply", key('x', "Clear reply", func() {
		a.async(func() error { return a.vm.SetReply(a.ctx, "") })
	}))
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(stack []string) {
		a.crumbs.Update(stack)
		a.updateMenu()
	})

	a.list.SetSelectedFunc(func(row, _ int) {
		if c, ok := a.list.ConversationByIndex(row); ok {
			a.open(c)
		}
	})

	a.thread.SetOnSend(func(text string) {
		a.async(func() error { return a.vm.Send(a.ctx, text) })
	})
	a.thread.SetOnCancel(func() { a.app.SetFocus(a.thread.Messages()) })

	a.search.SetOnQuery(func(query string) { a.runSearch(query) })
	a.search.Results().SetSelectedFunc(func(int, int) {
		if c, ok := a.search.SelectedResult(); ok {
			a.open(c)
		}
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.deactivatePrompt()
		switch mode {
		case ui.PromptCommand:
			a.execute(ParseCommand(text))
		case ui.PromptFilter:
			a.list.SetFilter(text)
		}
	})
	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.list.SetFilter(text)
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.list.ClearFilter()
		}
		a.deactivatePrompt()
	})
}

func (a *App) setupLayout() {
	for page, c := range a.components {
		a.pages.AddPage(page, c, true, false)
		a.crumbs.SetLabel(page, c.Name())
	}

	header := tview.NewFlex().
		AddItem(a.profileInfo, 0, 1, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(a.logo, 14, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, headerHeight, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
	a.root.SetBackgroundColor(a.theme.BgColor)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.handleKey)

	a.profileInfo.Update(nil)
	a.pages.Reset(pageConversations)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if a.promptActive {
		return ev
	}
	page := a.pages.Current()

	// Text inputs own every key except navigation out of them.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		if page == pageSearch {
			switch ev.Key() {
			case tcell.KeyEscape:
				a.back()
				return nil
			case tcell.KeyTab:
				a.app.SetFocus(a.search.Results())
				return nil
			}
		}
		return ev
	}

	if page == pageConversations && ev.Key() == tcell.KeyRune && ev.Rune() >= '0' && ev.Rune() <= '9' {
		if ev.Rune() == '0' {
			a.list.ClearFilter()
			return nil
		}
		if c, ok := a.list.ConversationByIndex(int(ev.Rune() - '0')); ok {
			a.open(c)
		}
		return nil
	}
	if page == pageSearch && ev.Key() == tcell.KeyTab {
		a.app.SetFocus(a.search.Input())
		return nil
	}

	if a.registry.HandleEvent(page, ev) {
		return nil
	}
	return ev
}

// execute runs a parsed ':' command.
func (a *App) execute(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.push(pageHelp)
	case "refresh":
		a.refresh()
	case "archived":
		a.async(func() error { return a.vm.ToggleArchived(a.ctx) })
	case "search":
		a.push(pageSearch)
		a.search.SetQuery(cmd.Args)
		a.app.SetFocus(a.search.Input())
		if cmd.Args != "" {
			a.runSearch(cmd.Args)
		}
	case "new":
		f := cmd.Fields()
		if len(f) == 0 {
			a.vm.Flash.Warn("usage: new <user-id> [username]")
			return
		}
		p := store.Participant{UserID: f[0]}
		if len(f) > 1 {
			p.Username = f[1]
		}
		a.async(func() error {
			if err := a.vm.StartWith(a.ctx, p); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(a.showThread)
			return nil
		})
	case "reply":
		a.reply(cmd.Args)
	case "retry":
		a.async(func() error { return a.vm.RetryHistory(a.ctx) })
	case "pin", "unpin":
		v := cmd.Name == "pin"
		a.withTarget(func(c store.Conversation) error { return a.vm.SetPinned(a.ctx, c.ID, v) })
	case "archive", "unarchive":
		v := cmd.Name == "archive"
		a.withTarget(func(c store.Conversation) error { return a.vm.SetArchived(a.ctx, c.ID, v) })
	case "delete":
		a.withTarget(func(c store.Conversation) error {
			if err := a.vm.Delete(a.ctx, c.ID); err != nil {
				return err
			}
			a.vm.Flash.Info("Conversation deleted")
			return nil
		})
	default:
		a.vm.Flash.Warn(fmt.Sprintf("unknown command %q", cmd.Name))
	}
}

// reply sets the reply target from a thread label (#n) or message id. No
// argument clears it.
func (a *App) reply(arg string) {
	id := arg
	if n, ok := threadIndex(arg); ok {
		m, found := a.thread.MessageAt(n)
		if !found {
			a.vm.Flash.Warn(fmt.Sprintf("no message #%d", n))
			return
		}
		if m.ID == "" {
			a.vm.Flash.Warn("message is not confirmed yet")
			return
		}
		id = m.ID
	}
	a.async(func() error { return a.vm.SetReply(a.ctx, id) })
	if id != "" && a.pages.Current() == pageThread {
		a.app.SetFocus(a.thread.Composer())
	}
}

// withTarget runs fn on the open conversation in the thread view and on the
// selected row elsewhere.
func (a *App) withTarget(fn func(store.Conversation) error) {
	if a.pages.Current() == pageThread {
		if c, ok := a.vm.Active(); ok {
			a.run(c, fn)
		}
		return
	}
	a.withSelected(fn)
}

func (a *App) withSelected(fn func(store.Conversation) error) {
	if c, ok := a.list.SelectedConversation(); ok {
		a.run(c, fn)
	}
}

func (a *App) run(c store.Conversation, fn func(store.Conversation) error) {
	if c.IsTemp {
		a.vm.Flash.Warn("drafts have no server state yet")
		return
	}
	a.async(func() error { return fn(c) })
}

func (a *App) open(c store.Conversation) {
	a.async(func() error {
		if err := a.vm.Open(a.ctx, c); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(a.showThread)
		return nil
	})
}

func (a *App) showThread() {
	a.pages.Reset(pageConversations)
	a.pages.Push(pageThread)
	a.render()
	a.app.SetFocus(a.thread.Composer())
}

func (a *App) showDetails(c store.Conversation) {
	a.details.Update(c, a.vm.SelfID())
	a.push(pageDetails)
}

func (a *App) runSearch(query string) {
	a.async(func() error {
		results, err := a.vm.Search(a.ctx, query)
		if err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(results, a.vm.SelfID())
			if len(results) > 0 {
				a.app.SetFocus(a.search.Results())
			}
		})
		return nil
	})
}

func (a *App) refresh() {
	a.async(func() error {
		if err := a.vm.Refresh(a.ctx); err != nil {
			return err
		}
		a.vm.Flash.Info("Conversations refreshed")
		return nil
	})
}

// async runs fn off the UI goroutine and flashes its error.
func (a *App) async(fn func() error) {
	go func() {
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			a.vm.Flash.Err(err)
		}
	}()
}

func (a *App) push(page string) {
	a.pages.Push(page)
	a.focusPage()
}

func (a *App) back() {
	if a.pages.Pop() != "" {
		a.focusPage()
	}
}

func (a *App) focusPage() {
	switch a.pages.Current() {
	case pageConversations:
		a.app.SetFocus(a.list)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageHelp:
		a.app.SetFocus(a.help)
	}
}

func (a *App) activatePrompt(mode ui.PromptMode) {
	a.promptActive = true
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.list.Filter())
	}
	a.root.ResizeItem(a.prompt, promptHeight, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) deactivatePrompt() {
	a.promptActive = false
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusPage()
}

func (a *App) updateMenu() {
	if c, ok := a.components[a.pages.Current()]; ok {
		a.menu.Update(c.Hints())
	}
}

// render copies view model snapshots into the views. Runs on the UI goroutine.
func (a *App) render() {
	self := a.vm.SelfID()
	a.profileInfo.Update(a.vm.Profile())
	a.list.Update(a.vm.Conversations(), self, a.vm.ActiveID(), a.vm.ShowArchived())

	title := ""
	if c, ok := a.vm.Active(); ok {
		title = c.Title(self)
	}
	a.thread.SetTitle(title)
	a.thread.Update(a.vm.Messages(), self, a.vm.ReplyTo())
	a.crumbs.SetLabel(pageThread, a.thread.Name())
	a.crumbs.Update(a.pages.Stack())
}

// Run loads the initial state, follows daemon events and blocks until the
// UI exits.
func (a *App) Run() error {
	go func() {
		if err := a.vm.LoadStatus(a.ctx); err != nil {
			a.vm.Flash.Err(err)
		}
		if err := a.vm.LoadConversations(a.ctx); err != nil {
			a.vm.Flash.Err(err)
		}
		if a.vm.ActiveID() != "" {
			_ = a.vm.LoadMessages(a.ctx)
		}
	}()
	go a.watchLoop()
	go a.statusLoop()
	go a.drawLoop()

	return a.app.Run()
}

// watchLoop follows the daemon event stream, reopening it after failures.
func (a *App) watchLoop() {
	for a.ctx.Err() == nil {
		stream, err := a.client.Watch(a.ctx, "")
		if err == nil {
			err = a.vm.Watch(a.ctx, stream)
		}
		if err != nil && a.ctx.Err() == nil {
			a.vm.Flash.Warn("Lost daemon events, retrying: " + err.Error())
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(watchRetry):
		}
		_ = a.vm.LoadStatus(a.ctx)
		_ = a.vm.LoadConversations(a.ctx)
	}
}

func (a *App) statusLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = a.vm.LoadStatus(a.ctx)
		case <-a.ctx.Done():
			return
		}
	}
}

// drawLoop redraws on view model changes and flash updates.
func (a *App) drawLoop() {
	for {
		select {
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.render)
		case msg := <-a.vm.Flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(&msg) })
			go a.expireFlash(msg)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) expireFlash(msg ui.FlashMessage) {
	select {
	case <-time.After(time.Until(msg.Expires)):
		a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.vm.Flash.GetMessage()) })
	case <-a.ctx.Done():
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
