// Package voice routes inbound calls: ring-through during business hours,
// missed-call text plus operator alert otherwise, voicemail for landlines,
// and an emergency press-1 override. Responses are rendered as provider
// call-control markup (TwiML) without any provider SDK dependency.
package voice

import (
	"bytes"
	"encoding/xml"
)

const (
	pollyVoice = "Polly.Matthew-Neural"
	pollyLang  = "en-US"
)

// Response is the markup tree returned to the provider. Verbs execute in
// order; a Dial with an action URL suspends processing until the callback.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type saySpeech struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type dialNumber struct {
	XMLName          xml.Name `xml:"Dial"`
	Timeout          int      `xml:"timeout,attr,omitempty"`
	Action           string   `xml:"action,attr,omitempty"`
	Method           string   `xml:"method,attr,omitempty"`
	MachineDetection string   `xml:"machineDetection,attr,omitempty"`
	Number           string   `xml:"Number"`
}

type gatherDigits struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr,omitempty"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	Verbs     []any    `xml:",any"`
}

type recordVoicemail struct {
	XMLName     xml.Name `xml:"Record"`
	Action      string   `xml:"action,attr,omitempty"`
	MaxLength   int      `xml:"maxLength,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
}

type hangupCall struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (r *Response) Say(text string) *Response {
	r.Verbs = append(r.Verbs, saySpeech{Voice: pollyVoice, Language: pollyLang, Text: text})
	return r
}

// Dial rings number. A non-empty action makes the provider POST the dial
// outcome there instead of continuing with the remaining verbs.
func (r *Response) Dial(number string, timeout int, action string) *Response {
	d := dialNumber{Timeout: timeout, Number: number}
	if action != "" {
		d.Action = action
		d.Method = "POST"
		d.MachineDetection = "Enable"
	}
	r.Verbs = append(r.Verbs, d)
	return r
}

// GatherDigit collects a single DTMF digit and POSTs it to action; on
// timeout the provider falls through to the verbs after the Gather.
func (r *Response) GatherDigit(action string, timeout int, prompt string) *Response {
	r.Verbs = append(r.Verbs, gatherDigits{
		Input:     "dtmf",
		NumDigits: 1,
		Timeout:   timeout,
		Action:    action,
		Method:    "POST",
		Verbs:     []any{saySpeech{Voice: pollyVoice, Language: pollyLang, Text: prompt}},
	})
	return r
}

func (r *Response) Record(action string, maxLength int) *Response {
	r.Verbs = append(r.Verbs, recordVoicemail{Action: action, MaxLength: maxLength, FinishOnKey: "#"})
	return r
}

func (r *Response) Hangup() *Response {
	r.Verbs = append(r.Verbs, hangupCall{})
	return r
}

// Render serializes the response. An empty Response renders as a bare
// <Response/>, the provider's no-op.
func (r *Response) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
