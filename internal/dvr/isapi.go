// internal/dvr/isapi.go
package dvr

import "encoding/xml"

// ISAPI wire types. Field names follow the recorder's XML, not Go style.

type inputProxyChannelList struct {
	XMLName  xml.Name            `xml:"InputProxyChannelList"`
	Channels []inputProxyChannel `xml:"InputProxyChannel"`
}

type inputProxyChannel struct {
	ID     int    `xml:"id"`
	Name   string `xml:"name"`
	Source struct {
		IPAddress string `xml:"ipAddress"`
	} `xml:"sourceInputPortDescriptor"`
}

type inputProxyChannelStatusList struct {
	XMLName  xml.Name                  `xml:"InputProxyChannelStatusList"`
	Statuses []inputProxyChannelStatus `xml:"InputProxyChannelStatus"`
}

type inputProxyChannelStatus struct {
	ID       int  `xml:"id"`
	Online   bool `xml:"online"`
	Channels struct {
		IDs []int `xml:"streamingProxyChannelId"`
	} `xml:"streamingProxyChannelIdList"`
}

type cmSearchDescription struct {
	XMLName        xml.Name `xml:"CMSearchDescription"`
	SearchID       string   `xml:"searchID"`
	TrackID        int      `xml:"trackList>trackID"`
	StartTime      string   `xml:"timeSpanList>timeSpan>startTime"`
	EndTime        string   `xml:"timeSpanList>timeSpan>endTime"`
	MaxResults     int      `xml:"maxResults"`
	ResultPosition int      `xml:"searchResultPosition"`
	Metadata       string   `xml:"metadataList>metadataDescriptor"`
}

type cmSearchResult struct {
	XMLName        xml.Name          `xml:"CMSearchResult"`
	ResponseStatus string            `xml:"responseStatus"`
	NumOfMatches   int               `xml:"numOfMatches"`
	Matches        []searchMatchItem `xml:"matchList>searchMatchItem"`
}

type searchMatchItem struct {
	TrackID  int `xml:"trackID"`
	TimeSpan struct {
		StartTime string `xml:"startTime"`
		EndTime   string `xml:"endTime"`
	} `xml:"timeSpan"`
	Segment struct {
		ContentType string `xml:"contentType"`
		PlaybackURI string `xml:"playbackURI"`
	} `xml:"mediaSegmentDescriptor"`
}
