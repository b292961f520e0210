package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
	"github.com/anonymous-cmd-os/palmistry/internal/session"
	"github.com/anonymous-cmd-os/palmistry/internal/testutil"
)

var (
	leftPNG  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRleft")
	rightPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRright")
)

type recordingRevealer struct {
	mu      sync.Mutex
	subs    []oracle.Submission
	encoded []string
	result  oracle.Result
	err     error
}

func (r *recordingRevealer) Reveal(_ context.Context, sub oracle.Submission) (oracle.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
	return r.reading()
}

func (r *recordingRevealer) RevealEncoded(_ context.Context, dob string, left, right oracle.EncodedImage) (oracle.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoded = append(r.encoded, dob, left.MediaType, right.MediaType)
	return r.reading()
}

func (r *recordingRevealer) reading() (oracle.Reading, error) {
	if r.err != nil {
		return oracle.Reading{}, r.err
	}
	return oracle.Reading{ID: "rdg_test", Result: r.result}, nil
}

func (r *recordingRevealer) submissions() []oracle.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]oracle.Submission(nil), r.subs...)
}

func reportResult() oracle.Result {
	return oracle.Result{
		ZodiacSign:  oracle.NewBilingual("Leo", "सिंह"),
		Element:     oracle.NewBilingual("Fire", "अग्नि"),
		DateOfBirth: "1990-08-15",
		PalmAnalysis: oracle.PalmAnalysis{
			HeartLine: oracle.NewBilingual("Deep heart line", "गहरी हृदय रेखा"),
			HeadLine:  oracle.NewBilingual("Long head line", "लंबी मस्तिष्क रेखा"),
			LifeLine:  oracle.NewBilingual("Strong life line", "मजबूत जीवन रेखा"),
			FateLine:  oracle.NewBilingual("Clear fate line", "स्पष्ट भाग्य रेखा"),
			Mounts:    oracle.NewBilingual("Raised Venus", "शुक्र पर्वत"),
		},
		Personality:       oracle.NewBilingual("Bold", "साहसी"),
		Behavior:          oracle.NewBilingual("Generous", "उदार"),
		Strengths:         []oracle.Bilingual{oracle.NewBilingual("Courage", "साहस")},
		Challenges:        []oracle.Bilingual{oracle.NewBilingual("Pride", "अहंकार")},
		LoveLife:          oracle.NewBilingual("Passionate", "भावुक"),
		Career:            oracle.NewBilingual("Leader", "नेता"),
		SpiritualGuidance: oracle.NewBilingual("Honour the sun", "सूर्य का सम्मान करें"),
	}
}

type formFile struct {
	field string
	name  string
	data  []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// visit loads the home page and returns its body and the CSRF token embedded in it.
func visit(t *testing.T, client *http.Client, baseURL string) (string, []byte) {
	t.Helper()
	resp, err := client.Get(baseURL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	token := testutil.ParseHTML(t, body).Find("input[name=csrf_token]").First().AttrOr("value", "")
	require.NotEmpty(t, token)
	return token, body
}

func postReading(t *testing.T, client *http.Client, baseURL, token string, fields map[string]string, files ...formFile) (*http.Response, []byte) {
	t.Helper()
	if fields == nil {
		fields = map[string]string{}
	}
	if token != "" {
		fields["csrf_token"] = token
	}
	body, contentType := multipartBody(t, fields, files...)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/reading", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	return do(t, client, req)
}

func postAction(t *testing.T, client *http.Client, baseURL, path, token string) (*http.Response, []byte) {
	t.Helper()
	form := url.Values{"csrf_token": {token}}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(t, client, req)
}

func do(t *testing.T, client *http.Client, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func bothHands() []formFile {
	return []formFile{
		{field: "leftHand", name: "left.png", data: leftPNG},
		{field: "rightHand", name: "right.png", data: rightPNG},
	}
}

func TestHomeRendersFormAndIssuesVisitorCookie(t *testing.T) {
	ts := testutil.NewServer(t)

	resp, err := ts.Client().Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "oracle_session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	require.True(t, sessionCookie.HttpOnly)

	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "idle", doc.Find("main#oracle").AttrOr("data-phase", ""))
	require.Equal(t, "Reveal My Destiny", strings.TrimSpace(doc.Find("button.reveal").Text()))
}

func TestSubmitWithoutCSRFTokenIsForbidden(t *testing.T) {
	revealer := &recordingRevealer{result: reportResult()}
	ts := testutil.NewServer(t, testutil.WithRevealer(revealer))
	client := testutil.NewClient(t, ts)
	visit(t, client, ts.URL)

	resp, body := postReading(t, client, ts.URL, "", map[string]string{"dob": "1990-08-15"}, bothHands()...)

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, string(body), "invalid_csrf_token")
	require.Empty(t, revealer.submissions())
}

func TestSubmitIncompleteInputListsMissingFields(t *testing.T) {
	revealer := &recordingRevealer{result: reportResult()}
	ts := testutil.NewServer(t, testutil.WithRevealer(revealer))
	client := testutil.NewClient(t, ts)
	token, _ := visit(t, client, ts.URL)

	resp, body := postReading(t, client, ts.URL, token, map[string]string{"dob": "1990-08-15"})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "1990-08-15", doc.Find("input#dob").AttrOr("value", ""))
	require.Equal(t, 2, doc.Find(".field-missing").Length())
	require.Contains(t, doc.Find(".field-error").Text(), "Left hand image is required.")
	require.Contains(t, doc.Find(".field-error").Text(), "Right hand image is required.")
	require.Empty(t, revealer.submissions())
}

func TestSubmitMergesFieldsAcrossPosts(t *testing.T) {
	revealer := &recordingRevealer{result: reportResult()}
	ts := testutil.NewServer(t, testutil.WithRevealer(revealer))
	client := testutil.NewClient(t, ts)
	token, _ := visit(t, client, ts.URL)

	resp, _ := postReading(t, client, ts.URL, token, nil, formFile{field: "leftHand", name: "left.png", data: leftPNG})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	preview, data := do(t, client, mustRequest(t, http.MethodGet, ts.URL+"/hands/left"))
	require.Equal(t, http.StatusOK, preview.StatusCode)
	require.Equal(t, "image/png", preview.Header.Get("Content-Type"))
	require.Equal(t, "nosniff", preview.Header.Get("X-Content-Type-Options"))
	require.Equal(t, leftPNG, data)

	missing, _ := do(t, client, mustRequest(t, http.MethodGet, ts.URL+"/hands/right"))
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
	unknown, _ := do(t, client, mustRequest(t, http.MethodGet, ts.URL+"/hands/middle"))
	require.Equal(t, http.StatusNotFound, unknown.StatusCode)

	resp, body := postReading(t, client, ts.URL, token, map[string]string{"dob": "1990-08-15"},
		formFile{field: "rightHand", name: "right.png", data: rightPNG})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "success", testutil.ParseHTML(t, body).Find("main#oracle").AttrOr("data-phase", ""))

	subs := revealer.submissions()
	require.Len(t, subs, 1)
	require.Equal(t, leftPNG, subs[0].LeftHand.Data)
	require.Equal(t, rightPNG, subs[0].RightHand.Data)
}

func TestSubmitRedirectsAndRendersReport(t *testing.T) {
	revealer := &recordingRevealer{result: reportResult()}
	ts := testutil.NewServer(t, testutil.WithRevealer(revealer))
	client := testutil.NewClient(t, ts)
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	token, _ := visit(t, client, ts.URL)

	resp, _ := postReading(t, client, ts.URL, token, map[string]string{"dob": "1990-08-15"}, bothHands()...)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	subs := revealer.submissions()
	require.Len(t, subs, 1)
	require.Equal(t, "1990-08-15", subs[0].DateOfBirth)
	require.Equal(t, "left.png", subs[0].LeftHand.Name)
	require.Equal(t, "right.png", subs[0].RightHand.Name)

	_, body := visit(t, client, ts.URL)
	doc := testutil.ParseHTML(t, body)
	report := doc.Find("article.report")
	require.Equal(t, 1, report.Length())
	require.Equal(t, "Leo", strings.TrimSpace(report.Find(".zodiac .bi-primary").Text()))
	require.Equal(t, "सिंह", strings.TrimSpace(report.Find(".zodiac .bi-secondary").Text()))
	require.Contains(t, report.Find("#lines").Text(), "Clear fate line")
	require.Contains(t, report.Find("#guidance").Text(), "सूर्य का सम्मान करें")

	// a second submission while showing the report is ignored
	resp, _ = postReading(t, client, ts.URL, token, map[string]string{"dob": "2000-01-01"}, bothHands()...)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Len(t, revealer.submissions(), 1)
}

func TestFailureShowsCloudedStarsAndRetry(t *testing.T) {
	testCases := []struct {
		name     string
		policy   session.RetryPolicy
		wantDOB  string
		wantPrev int
	}{
		{name: "keep input", policy: session.RetryKeepInput, wantDOB: "1990-08-15", wantPrev: 2},
		{name: "clear input", policy: session.RetryClearInput, wantDOB: "", wantPrev: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			revealer := &recordingRevealer{err: &oracle.Error{Kind: oracle.KindTransport, Detail: "gemini: 503", Err: errors.New("unavailable")}}
			ts := testutil.NewServer(t, testutil.WithRevealer(revealer), testutil.WithRetryPolicy(tc.policy))
			client := testutil.NewClient(t, ts)
			token, _ := visit(t, client, ts.URL)

			resp, body := postReading(t, client, ts.URL, token, map[string]string{"dob": "1990-08-15"}, bothHands()...)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			doc := testutil.ParseHTML(t, body)
			require.Equal(t, "error", doc.Find("main#oracle").AttrOr("data-phase", ""))
			require.Equal(t, "The Stars Are Clouded", strings.TrimSpace(doc.Find(".failure h3").Text()))
			require.Contains(t, doc.Find(".failure p").Text(), oracle.GenericFailureMessage)
			require.NotContains(t, string(body), "gemini: 503")

			resp, body = postAction(t, client, ts.URL, "/retry", token)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			doc = testutil.ParseHTML(t, body)
			require.Equal(t, "idle", doc.Find("main#oracle").AttrOr("data-phase", ""))
			require.Equal(t, tc.wantDOB, doc.Find("input#dob").AttrOr("value", ""))
			require.Equal(t, tc.wantPrev, doc.Find("img.preview").Length())
		})
	}
}

func TestResetReturnsToEmptyForm(t *testing.T) {
	revealer := &recordingRevealer{result: reportResult()}
	store := session.NewStore()
	ts := testutil.NewServer(t, testutil.WithRevealer(revealer), testutil.WithStore(store))
	client := testutil.NewClient(t, ts)
	token, _ := visit(t, client, ts.URL)

	_, body := postReading(t, client, ts.URL, token, map[string]string{"dob": "1990-08-15"}, bothHands()...)
	require.Equal(t, 1, testutil.ParseHTML(t, body).Find("form.again").Length())
	require.Equal(t, 1, store.Len())

	noFollow := *client
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, _ := postAction(t, &noFollow, ts.URL, "/reset", token)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Zero(t, store.Len())

	resp, body = do(t, client, mustRequest(t, http.MethodGet, ts.URL+"/"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "idle", doc.Find("main#oracle").AttrOr("data-phase", ""))
	require.Empty(t, doc.Find("input#dob").AttrOr("value", ""))
	require.Zero(t, doc.Find("img.preview").Length())
}

func TestHTMXValidationErrorIsSwapped(t *testing.T) {
	ts := testutil.NewServer(t, testutil.WithRevealer(&recordingRevealer{result: reportResult()}))
	client := testutil.NewClient(t, ts)
	token, _ := visit(t, client, ts.URL)

	body, contentType := multipartBody(t, map[string]string{"dob": "1990-08-15"})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/reading", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("X-CSRF-Token", token)

	resp, page := do(t, client, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, testutil.ParseHTML(t, page).Find(".field-missing").Length())
}

func TestOversizedUploadIsRejected(t *testing.T) {
	revealer := &recordingRevealer{result: reportResult()}
	ts := testutil.NewServer(t, testutil.WithRevealer(revealer), testutil.WithMaxImageBytes(8))
	client := testutil.NewClient(t, ts)
	token, _ := visit(t, client, ts.URL)

	resp, body := postReading(t, client, ts.URL, token, map[string]string{"dob": "1990-08-15"}, bothHands()...)

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Contains(t, testutil.ParseHTML(t, body).Find(".notice").Text(), "too large")
	require.Empty(t, revealer.submissions())
}

func TestLocaleSelection(t *testing.T) {
	ts := testutil.NewServer(t)

	t.Run("query parameter sticks to the visitor", func(t *testing.T) {
		client := testutil.NewClient(t, ts)
		resp, body := do(t, client, mustRequest(t, http.MethodGet, ts.URL+"/?hl=hi"))
		require.Equal(t, "hi", resp.Header.Get("Content-Language"))
		require.Equal(t, "hi", testutil.ParseHTML(t, body).Find("html").AttrOr("lang", ""))

		_, body = do(t, client, mustRequest(t, http.MethodGet, ts.URL+"/"))
		doc := testutil.ParseHTML(t, body)
		require.Equal(t, "hi", doc.Find("html").AttrOr("lang", ""))
		require.Equal(t, "English", strings.TrimSpace(doc.Find("a.lang-switch").Text()))
	})

	t.Run("accept language on first visit", func(t *testing.T) {
		client := testutil.NewClient(t, ts)
		req := mustRequest(t, http.MethodGet, ts.URL+"/")
		req.Header.Set("Accept-Language", "hi-IN,hi;q=0.9,en;q=0.5")
		resp, _ := do(t, client, req)
		require.Equal(t, "hi", resp.Header.Get("Content-Language"))
	})

	t.Run("unsupported language falls back to english", func(t *testing.T) {
		client := testutil.NewClient(t, ts)
		req := mustRequest(t, http.MethodGet, ts.URL+"/")
		req.Header.Set("Accept-Language", "fr-FR")
		resp, _ := do(t, client, req)
		require.Equal(t, "en", resp.Header.Get("Content-Language"))
	})
}

func mustRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	return req
}

func TestRequestLogCarriesVisitorAndLocale(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ts := testutil.NewServer(t, testutil.WithLogger(zap.New(core)))
	client := testutil.NewClient(t, ts)

	resp, _ := do(t, client, mustRequest(t, http.MethodGet, ts.URL+"/?hl=hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("request completed").Len() == 1
	}, time.Second, 10*time.Millisecond)
	fields := logs.FilterMessage("request completed").All()[0].ContextMap()
	require.NotEmpty(t, fields["visitor_id"])
	require.Equal(t, "hi", fields["locale"])
}
