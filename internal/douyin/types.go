package douyin

// Envelope is the metadata API response shape. The upstream signals success
// either with code == 200 or with an explicit status_code of zero; status_code
// is a pointer so an absent field is not mistaken for success.
type Envelope struct {
	Code       int    `json:"code"`
	StatusCode *int   `json:"status_code"`
	Message    string `json:"message"`
	Data       struct {
		AwemeDetail *AwemeDetail `json:"aweme_detail"`
	} `json:"data"`
}

func (e *Envelope) OK() bool {
	if e == nil {
		return false
	}
	return e.Code == 200 || (e.StatusCode != nil && *e.StatusCode == 0)
}

// AwemeDetail is the nested detail object the pipeline actually consumes.
type AwemeDetail struct {
	AwemeID   string        `json:"aweme_id"`
	Desc      string        `json:"desc"`
	MediaType int           `json:"media_type"`
	Author    Author        `json:"author"`
	Video     *Video        `json:"video"`
	Images    []GalleryItem `json:"images"`
}

type Author struct {
	UID      string `json:"uid"`
	Nickname string `json:"nickname"`
}

type Video struct {
	PlayAddrH264 *PlayAddr `json:"play_addr_h264"`
	PlayAddr     *PlayAddr `json:"play_addr"`
}

// URLs returns the video mirror list, preferring the h264 address.
func (v *Video) URLs() []string {
	if v == nil {
		return nil
	}
	if v.PlayAddrH264 != nil && len(v.PlayAddrH264.URLList) > 0 {
		return v.PlayAddrH264.URLList
	}
	if v.PlayAddr != nil {
		return v.PlayAddr.URLList
	}
	return nil
}

type PlayAddr struct {
	URLList []string `json:"url_list"`
}

// GalleryItem is one entry of the images list. In mixed posts an item may
// carry its own video descriptor instead of image mirrors.
type GalleryItem struct {
	URLList []string `json:"url_list"`
	Video   *Video   `json:"video"`
}

// Title returns the text used for file and folder naming.
func (d *AwemeDetail) Title() string {
	if d.Desc != "" {
		return d.Desc
	}
	return d.AwemeID
}
