package observability

// CommandOther is the label every command outside knownCommands records as.
const CommandOther = "other"

// knownCommands bounds the command label. Names come from user input (exec,
// shell), so anything else collapses into CommandOther.
var knownCommands = map[string]struct{}{
	"newSession":      {},
	"Addon:Install":   {},
	"Addon:Uninstall": {},

	"Marionette:AcceptConnections":    {},
	"Marionette:GetContext":           {},
	"Marionette:GetScreenOrientation": {},
	"Marionette:Quit":                 {},
	"Marionette:SetContext":           {},
	"Marionette:SetScreenOrientation": {},

	"WebDriver:AcceptAlert":         {},
	"WebDriver:AddCookie":           {},
	"WebDriver:Back":                {},
	"WebDriver:CloseChromeWindow":   {},
	"WebDriver:CloseWindow":         {},
	"WebDriver:DeleteAllCookies":    {},
	"WebDriver:DeleteCookie":        {},
	"WebDriver:DeleteSession":       {},
	"WebDriver:DismissAlert":        {},
	"WebDriver:ElementClear":        {},
	"WebDriver:ElementClick":        {},
	"WebDriver:ElementSendKeys":     {},
	"WebDriver:ExecuteAsyncScript":  {},
	"WebDriver:ExecuteScript":       {},
	"WebDriver:FindElement":         {},
	"WebDriver:FindElements":        {},
	"WebDriver:Forward":             {},
	"WebDriver:FullscreenWindow":    {},
	"WebDriver:GetActiveElement":    {},
	"WebDriver:GetAlertText":        {},
	"WebDriver:GetCapabilities":     {},
	"WebDriver:GetCookies":          {},
	"WebDriver:GetCurrentURL":       {},
	"WebDriver:GetElementAttribute": {},
	"WebDriver:GetElementCSSValue":  {},
	"WebDriver:GetElementProperty":  {},
	"WebDriver:GetElementRect":      {},
	"WebDriver:GetElementTagName":   {},
	"WebDriver:GetElementText":      {},
	"WebDriver:GetPageSource":       {},
	"WebDriver:GetTimeouts":         {},
	"WebDriver:GetTitle":            {},
	"WebDriver:GetWindowHandle":     {},
	"WebDriver:GetWindowHandles":    {},
	"WebDriver:GetWindowRect":       {},
	"WebDriver:IsElementDisplayed":  {},
	"WebDriver:IsElementEnabled":    {},
	"WebDriver:IsElementSelected":   {},
	"WebDriver:MinimizeWindow":      {},
	"WebDriver:MaximizeWindow":      {},
	"WebDriver:Navigate":            {},
	"WebDriver:NewSession":          {},
	"WebDriver:NewWindow":           {},
	"WebDriver:PerformActions":      {},
	"WebDriver:Print":               {},
	"WebDriver:Refresh":             {},
	"WebDriver:ReleaseActions":      {},
	"WebDriver:SendAlertText":       {},
	"WebDriver:SetTimeouts":         {},
	"WebDriver:SetWindowRect":       {},
	"WebDriver:SwitchToFrame":       {},
	"WebDriver:SwitchToParentFrame": {},
	"WebDriver:SwitchToWindow":      {},
	"WebDriver:TakeScreenshot":      {},
	"getUrl":                        {},
	"get":                           {},
}

// CommandLabel maps a command name onto the bounded metric label set.
func CommandLabel(name string) string {
	if _, ok := knownCommands[name]; ok {
		return name
	}
	return CommandOther
}
