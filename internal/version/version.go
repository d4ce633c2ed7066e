package version

import "fmt"

const AppName = "家庭矛盾调解小程序"

var (
	Version = "1.0.0"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = ""
)

func Full() string {
	result := fmt.Sprintf("%s %s, commit %s, built at %s", AppName, Version, Commit, Date)
	if BuiltBy != "" {
		result += fmt.Sprintf(" by %s", BuiltBy)
	}
	return result
}
