package domain

type ActivityKind string

const (
	ActivityYoutube ActivityKind = "youtube"
	ActivityMusic   ActivityKind = "music"
)

// ActivitySession is replaced wholesale on every start; exactly one of
// Youtube or Music is set, matching Kind.
type ActivitySession struct {
	Kind    ActivityKind
	Youtube *YoutubeActivity
	Music   *MusicActivity
}

type YoutubeActivity struct {
	VideoID         string
	LastKnownState  PlayerState
	LastKnownPosSec float64
}

type MusicActivity struct {
	TrackIndex int
	IsPlaying  bool
}

func NewYoutubeActivity(videoID string) *ActivitySession {
	return &ActivitySession{
		Kind:    ActivityYoutube,
		Youtube: &YoutubeActivity{VideoID: videoID, LastKnownState: PlayerUnstarted},
	}
}

func NewMusicActivity() *ActivitySession {
	return &ActivitySession{
		Kind:  ActivityMusic,
		Music: &MusicActivity{TrackIndex: 0, IsPlaying: true},
	}
}

// Clone returns a deep copy safe to hand to presenters.
func (a *ActivitySession) Clone() *ActivitySession {
	if a == nil {
		return nil
	}
	out := &ActivitySession{Kind: a.Kind}
	if a.Youtube != nil {
		y := *a.Youtube
		out.Youtube = &y
	}
	if a.Music != nil {
		m := *a.Music
		out.Music = &m
	}
	return out
}

// MusicControl is a local radio control action.
type MusicControl string

const (
	MusicPlay  MusicControl = "play"
	MusicPause MusicControl = "pause"
	MusicNext  MusicControl = "next"
	MusicPrev  MusicControl = "prev"
)
