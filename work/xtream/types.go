package xtream

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"xtream-resolver/work/resolver"
)

// FlexString accepts a JSON string, number or null. Panels are inconsistent
// about quoting IDs.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*f = FlexString(data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = FlexString(n.String())
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexInt accepts a JSON number, numeric string, bool or null.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = 0
		return nil
	case bytes.Equal(data, []byte("true")):
		*f = 1
		return nil
	case bytes.Equal(data, []byte("false")):
		*f = 0
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*f = 0
		return nil
	}

	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(int(n))
	return nil
}

// UserInfo is the user_info block of the login response.
type UserInfo struct {
	Username             string     `json:"username"`
	Status               string     `json:"status"`
	Auth                 FlexInt    `json:"auth"`
	ExpDate              FlexString `json:"exp_date"`
	IsTrial              FlexString `json:"is_trial"`
	ActiveConnections    FlexString `json:"active_cons"`
	MaxConnections       FlexString `json:"max_connections"`
	AllowedOutputFormats []string   `json:"allowed_output_formats"`
}

// ServerInfo is the server_info block of the login response.
type ServerInfo struct {
	URL            string     `json:"url"`
	Port           FlexString `json:"port"`
	HTTPSPort      FlexString `json:"https_port"`
	ServerProtocol string     `json:"server_protocol"`
	Timezone       string     `json:"timezone"`
}

// AuthResponse is what player_api.php returns without an action.
type AuthResponse struct {
	UserInfo   UserInfo   `json:"user_info"`
	ServerInfo ServerInfo `json:"server_info"`
}

// Category is one entry of a get_*_categories listing.
type Category struct {
	ID       FlexString `json:"category_id"`
	Name     string     `json:"category_name"`
	ParentID FlexInt    `json:"parent_id"`
}

// LiveStream is one entry of get_live_streams.
type LiveStream struct {
	Num          FlexInt    `json:"num"`
	Name         string     `json:"name"`
	StreamID     FlexString `json:"stream_id"`
	StreamIcon   string     `json:"stream_icon"`
	EPGChannelID string     `json:"epg_channel_id"`
	CategoryID   FlexString `json:"category_id"`
	Added        FlexString `json:"added"`
	TVArchive    FlexInt    `json:"tv_archive"`
}

// VODStream is one entry of get_vod_streams.
type VODStream struct {
	Num                FlexInt    `json:"num"`
	Name               string     `json:"name"`
	StreamID           FlexString `json:"stream_id"`
	StreamIcon         string     `json:"stream_icon"`
	Rating             FlexString `json:"rating"`
	CategoryID         FlexString `json:"category_id"`
	ContainerExtension string     `json:"container_extension"`
	Added              FlexString `json:"added"`
}

// Series is one entry of get_series, and the info block of get_series_info.
type Series struct {
	Num         FlexInt    `json:"num"`
	Name        string     `json:"name"`
	SeriesID    FlexString `json:"series_id"`
	Cover       string     `json:"cover"`
	Plot        string     `json:"plot"`
	Genre       string     `json:"genre"`
	ReleaseDate string     `json:"releaseDate"`
	Rating      FlexString `json:"rating"`
	CategoryID  FlexString `json:"category_id"`
}

// EpisodeInfo carries the per-episode artwork and metadata.
type EpisodeInfo struct {
	MovieImage string     `json:"movie_image"`
	Plot       string     `json:"plot"`
	Duration   string     `json:"duration"`
	Rating     FlexString `json:"rating"`
}

// Episode is one playable episode from get_series_info.
type Episode struct {
	ID                 FlexString  `json:"id"`
	EpisodeNum         FlexInt     `json:"episode_num"`
	Title              string      `json:"title"`
	ContainerExtension string      `json:"container_extension"`
	Season             FlexInt     `json:"season"`
	Info               EpisodeInfo `json:"info"`
}

// Season describes one season of a series.
type Season struct {
	SeasonNumber FlexInt `json:"season_number"`
	Name         string  `json:"name"`
	EpisodeCount FlexInt `json:"episode_count"`
	Cover        string  `json:"cover"`
}

// EpisodeMap groups episodes by season number. Most panels send an object
// keyed by season; some send an array of arrays instead.
type EpisodeMap map[string][]Episode

// UnmarshalJSON implements json.Unmarshaler.
func (m *EpisodeMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := EpisodeMap{}

	if len(data) > 0 && data[0] == '[' {
		var seasons [][]Episode
		if err := json.Unmarshal(data, &seasons); err != nil {
			return err
		}
		for i, eps := range seasons {
			key := strconv.Itoa(i + 1)
			if len(eps) > 0 && eps[0].Season > 0 {
				key = strconv.Itoa(int(eps[0].Season))
			}
			out[key] = eps
		}
		*m = out
		return nil
	}

	if bytes.Equal(data, []byte("null")) {
		*m = out
		return nil
	}

	var obj map[string][]Episode
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for k, v := range obj {
		out[k] = v
	}
	*m = out
	return nil
}

// SeasonNumbers returns the season keys in numeric order.
func (m EpisodeMap) SeasonNumbers() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// SeriesInfo is the get_series_info response.
type SeriesInfo struct {
	Info     Series     `json:"info"`
	Seasons  []Season   `json:"seasons"`
	Episodes EpisodeMap `json:"episodes"`
}

// Item is the catalog entry handed to the API layer, one shape for all kinds.
// For KindSeries listings StreamID is the series ID; episodes carry their own
// episode ID, which is what the stream URL needs.
type Item struct {
	Kind               resolver.Kind `json:"kind"`
	StreamID           string        `json:"streamId"`
	Name               string        `json:"name"`
	CategoryID         string        `json:"categoryId,omitempty"`
	Icon               string        `json:"icon,omitempty"`
	ContainerExtension string        `json:"containerExtension,omitempty"`
	Rating             string        `json:"rating,omitempty"`
	Plot               string        `json:"plot,omitempty"`
	Genre              string        `json:"genre,omitempty"`
	Season             int           `json:"season,omitempty"`
	Episode            int           `json:"episode,omitempty"`
}

// Descriptor returns the resolver input for the item.
func (i Item) Descriptor() resolver.ContentDescriptor {
	return resolver.ContentDescriptor{
		StreamID:      i.StreamID,
		Kind:          i.Kind,
		ContainerHint: i.ContainerExtension,
	}
}

// Item converts a live listing entry.
func (l LiveStream) Item() Item {
	return Item{
		Kind:       resolver.KindLive,
		StreamID:   l.StreamID.String(),
		Name:       l.Name,
		CategoryID: l.CategoryID.String(),
		Icon:       l.StreamIcon,
	}
}

// Item converts a VOD listing entry.
func (v VODStream) Item() Item {
	return Item{
		Kind:               resolver.KindMovie,
		StreamID:           v.StreamID.String(),
		Name:               v.Name,
		CategoryID:         v.CategoryID.String(),
		Icon:               v.StreamIcon,
		ContainerExtension: v.ContainerExtension,
		Rating:             v.Rating.String(),
	}
}

// Item converts a series listing entry.
func (s Series) Item() Item {
	return Item{
		Kind:       resolver.KindSeries,
		StreamID:   s.SeriesID.String(),
		Name:       s.Name,
		CategoryID: s.CategoryID.String(),
		Icon:       s.Cover,
		Rating:     s.Rating.String(),
		Plot:       s.Plot,
		Genre:      s.Genre,
	}
}

// Item converts an episode. seriesName is used to name episodes the panel
// sent without a title.
func (e Episode) Item(seriesName string) Item {
	name := e.Title
	if name == "" {
		name = seriesName + " E" + strconv.Itoa(int(e.EpisodeNum))
	}
	return Item{
		Kind:               resolver.KindSeries,
		StreamID:           e.ID.String(),
		Name:               name,
		Icon:               e.Info.MovieImage,
		ContainerExtension: e.ContainerExtension,
		Rating:             e.Info.Rating.String(),
		Plot:               e.Info.Plot,
		Season:             int(e.Season),
		Episode:            int(e.EpisodeNum),
	}
}
