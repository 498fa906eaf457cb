package domain

type Track struct {
	Title  string `yaml:"title"`
	Artist string `yaml:"artist"`
	Src    string `yaml:"src"`
}

// DefaultPlaylist is the shared, statically ordered radio playlist. Both peers
// resolve tracks by index into it.
func DefaultPlaylist() []Track {
	return []Track{
		{Title: "Lofi Chill", Artist: "FASSounds", Src: "https://cdn.pixabay.com/download/audio/2022/05/27/audio_1808fbf07a.mp3"},
		{Title: "Study Beat", Artist: "Coma-Media", Src: "https://cdn.pixabay.com/download/audio/2022/02/22/audio_c06fba1b22.mp3"},
		{Title: "Relaxing Jazz", Artist: "Music_Unlimited", Src: "https://cdn.pixabay.com/download/audio/2022/09/22/audio_c0c8b13953.mp3"},
		{Title: "Ambient Piano", Artist: "SoulProdMusic", Src: "https://cdn.pixabay.com/download/audio/2022/10/05/audio_68612125da.mp3"},
	}
}

// WrapTrackIndex maps any integer onto [0, n).
func WrapTrackIndex(i, n int) int {
	if n <= 0 {
		return 0
	}
	return ((i % n) + n) % n
}
