package handlers

import (
	"encoding/xml"
	"net/http"
)

// TwiMLHandler answers the vendor's call webhook with markup that connects
// the call to this service's media stream, forwarding the lead id as a
// stream parameter.
type TwiMLHandler struct {
	StreamURL string
}

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type twimlStream struct {
	XMLName    xml.Name `xml:"Stream"`
	URL        string   `xml:"url,attr"`
	Parameters []twimlParameter
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

func (h TwiMLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	doc := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{URL: h.StreamURL},
		},
	}
	if leadID := r.URL.Query().Get("lead_id"); leadID != "" {
		doc.Connect.Stream.Parameters = append(doc.Connect.Stream.Parameters,
			twimlParameter{Name: "lead_id", Value: leadID})
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(doc)
}
