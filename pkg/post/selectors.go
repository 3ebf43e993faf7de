package post

// DOM selectors for the search results page. They change whenever the
// platform reshuffles its markup; keep them in one place.
const (
	PostArticle   = `article[data-testid="tweet"], div[data-testid="tweet"]`
	PostText      = `[data-testid="tweetText"], div[lang]`
	PostAuthorBox = `[data-testid="User-Name"]`

	LoginUsernameInput = `input[name="text"]`
	LoginPasswordInput = `input[name="password"]`
	HomeIndicator      = `a[href="/home"], [data-testid="SideNav_NewTweet_Button"]`
)
