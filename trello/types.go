package trello

// Card is the subset of the Trello card resource used by the sync engine.
type Card struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Desc      string  `json:"desc"`
	IDBoard   string  `json:"idBoard"`
	IDList    string  `json:"idList"`
	ShortLink string  `json:"shortLink"`
	ShortURL  string  `json:"shortUrl"`
	URL       string  `json:"url"`
	Labels    []Label `json:"labels"`
	Badges    Badges  `json:"badges"`
}

// Badges carries the counters Trello exposes on every card. Only the
// attachment count is consumed, as a fast path to skip attachment fetches.
type Badges struct {
	Attachments int `json:"attachments"`
}

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Checklist struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	IDCard     string      `json:"idCard"`
	CheckItems []CheckItem `json:"checkItems"`
}

type CheckItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type List struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IDBoard string `json:"idBoard"`
}

// Webhook is a Trello webhook registration owned by a token.
type Webhook struct {
	ID          string `json:"id"`
	IDModel     string `json:"idModel"`
	CallbackURL string `json:"callbackURL"`
	Active      bool   `json:"active"`
}
