package douyin

// MediaKind is the resolved media shape of a post.
type MediaKind int

const (
	KindUnknown MediaKind = iota
	KindSingleVideo
	KindImageGallery
	KindMixedGallery
)

func (k MediaKind) String() string {
	switch k {
	case KindSingleVideo:
		return "single_video"
	case KindImageGallery:
		return "image_gallery"
	case KindMixedGallery:
		return "mixed_gallery"
	default:
		return "unknown"
	}
}

// Upstream media_type tags. 2 and 68 are image posts, 42 is a mixed
// image/video post, 4 is a plain video.
const (
	mediaTypeImages      = 2
	mediaTypeImagesAlt   = 68
	mediaTypeMixed       = 42
	mediaTypeSingleVideo = 4
)

// Classify resolves the media shape, preferring the explicit media_type tag
// and falling back to structural inspection when the tag is absent or
// unrecognized. Image classification wins over mixed, mixed over video,
// matching the upstream routing order.
func Classify(d *AwemeDetail) MediaKind {
	if d == nil {
		return KindUnknown
	}

	hasImages := len(d.Images) > 0
	hasVideo := d.Video != nil

	switch {
	case d.MediaType == mediaTypeImages || d.MediaType == mediaTypeImagesAlt || (hasImages && !hasVideo):
		return KindImageGallery
	case d.MediaType == mediaTypeMixed || (hasImages && hasVideo):
		return KindMixedGallery
	case d.MediaType == mediaTypeSingleVideo || (hasVideo && !hasImages):
		return KindSingleVideo
	default:
		return KindUnknown
	}
}
