package webclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurre/docreview/document"
)

const typedDoc = `{"matched_blueprint":{"name":"bp","confidence":0.5},"document_class":{"type":"Type2"},"inference_result":{"a":"b"}}`

type fakeTokens struct {
	token string
	err   error
}

func (f fakeTokens) SessionToken(ctx context.Context) (string, error) {
	return f.token, f.err
}

type recorded struct {
	auth  string
	query url.Values
	body  string
}

type apiServer struct {
	mu       sync.Mutex
	getBody  string
	status   int
	requests []recorded
}

func (s *apiServer) snapshot() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.requests...)
}

func (s *apiServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recorded{
			auth:  r.Header.Get("Authorization"),
			query: r.URL.Query(),
			body:  string(body),
		})
		status, getBody := s.status, s.getBody
		s.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if r.Method == http.MethodPost && status == http.StatusOK {
			_, _ = w.Write([]byte(`{"message":"Document metadata updated successfully","docId":"doc-1","updated":["status"],"item":{"docId":"doc-1","status":"PROVED"}}`))
			return
		}
		_, _ = w.Write([]byte(getBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func onlineController(t *testing.T, s *apiServer, tokens TokenSource) *Controller {
	t.Helper()
	srv := s.start(t)
	return NewController(NewAPIClient(srv.URL, tokens, srv.Client(), 0), nil)
}

func TestOfflineReturnsSampleUnchanged(t *testing.T) {
	c := NewController(nil, nil)
	require.True(t, c.Offline())

	want, err := document.Parse(SampleDocument())
	require.NoError(t, err)

	for _, ids := range [][2]string{{"", ""}, {"anything", ""}} {
		rec, err := c.FetchDocument(context.Background(), ids[0], ids[1])
		require.NoError(t, err, "docId %q s3Key %q", ids[0], ids[1])
		assert.Equal(t, want, rec)
		assert.Equal(t, rec.DocumentClass.Type, c.State().ActiveTab)
	}
}

func TestSampleDocumentIsValid(t *testing.T) {
	rec, err := document.Parse(SampleDocument())
	require.NoError(t, err)
	assert.True(t, rec.DocumentClass.Type.Valid())
	assert.NotEmpty(t, rec.InferenceResult.Fields)
}

func TestFetchDocumentEnvelopes(t *testing.T) {
	bodies := map[string]string{
		"document": `{"docId":"doc-1","s3Key":"doc-1","document":` + typedDoc + `,"metadata":{"docId":"doc-1","status":"PROVED"}}`,
		"doc":      `{"doc":` + typedDoc + `}`,
		"top":      typedDoc,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			s := &apiServer{getBody: body}
			c := onlineController(t, s, fakeTokens{token: "tok"})

			rec, err := c.FetchDocument(context.Background(), "doc-1", "key/1")
			require.NoError(t, err)
			assert.Equal(t, document.Type2, rec.DocumentClass.Type)
			assert.Equal(t, document.Type2, c.State().ActiveTab)
			if name == "document" {
				assert.Equal(t, "PROVED", rec.Status)
			}

			reqs := s.snapshot()
			require.Len(t, reqs, 1)
			assert.Equal(t, "Bearer tok", reqs[0].auth)
			assert.Equal(t, "doc-1", reqs[0].query.Get("docId"))
			assert.Equal(t, "key/1", reqs[0].query.Get("s3Key"))
		})
	}
}

func TestFetchDocumentRejectsBogusType(t *testing.T) {
	s := &apiServer{getBody: typedDoc}
	c := onlineController(t, s, fakeTokens{token: "tok"})
	_, err := c.FetchDocument(context.Background(), "doc-1", "")
	require.NoError(t, err)

	s.mu.Lock()
	s.getBody = `{"document":{"document_class":{"type":"Bogus"}}}`
	s.mu.Unlock()

	_, err = c.FetchDocument(context.Background(), "doc-1", "")
	assert.True(t, errors.Is(err, document.ErrInvalidDocType))
	assert.Nil(t, c.State().Doc)
	assert.Equal(t, err, c.State().Err)
	_, ok := c.Page()
	assert.False(t, ok)
}

func TestFetchDocumentSurfacesServerError(t *testing.T) {
	s := &apiServer{status: http.StatusNotFound, getBody: `{"error":"Document not found: doc-9"}`}
	c := onlineController(t, s, fakeTokens{token: "tok"})

	_, err := c.FetchDocument(context.Background(), "doc-9", "")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Document not found: doc-9", apiErr.Message)
}

func TestFetchDocumentNeedsToken(t *testing.T) {
	s := &apiServer{getBody: typedDoc}
	c := onlineController(t, s, StaticTokenSource(""))
	_, err := c.FetchDocument(context.Background(), "doc-1", "")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Empty(t, s.snapshot())
}

func TestUnauthorizedResponse(t *testing.T) {
	s := &apiServer{status: http.StatusUnauthorized, getBody: `{"error":"Unauthorized"}`}
	c := onlineController(t, s, fakeTokens{token: "expired"})
	_, err := c.FetchDocument(context.Background(), "doc-1", "")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestUpdateStatus(t *testing.T) {
	s := &apiServer{getBody: typedDoc}
	c := onlineController(t, s, fakeTokens{token: "tok"})
	ctx := context.Background()

	before, err := c.FetchDocument(ctx, "doc-1", "")
	require.NoError(t, err)

	res, err := c.UpdateStatus(ctx, "doc-1", StatusProved)
	require.NoError(t, err)
	assert.Equal(t, []string{"status"}, res.Updated)
	assert.Same(t, before, c.State().Doc, "update must not touch the loaded document")

	var sent struct {
		DocID   string            `json:"docId"`
		Updates map[string]string `json:"updates"`
	}
	reqs := s.snapshot()
	require.Len(t, reqs, 2)
	require.NoError(t, json.Unmarshal([]byte(reqs[1].body), &sent))
	assert.Equal(t, "doc-1", sent.DocID)
	assert.Equal(t, map[string]string{"status": "PROVED"}, sent.Updates)
}

func TestUpdateStatusErrors(t *testing.T) {
	ctx := context.Background()

	c := onlineController(t, &apiServer{}, fakeTokens{token: "tok"})
	_, err := c.UpdateStatus(ctx, " ", StatusProved)
	assert.True(t, errors.Is(err, ErrDocIDRequired))

	c = onlineController(t, &apiServer{}, fakeTokens{err: ErrUnauthorized})
	_, err = c.UpdateStatus(ctx, "doc-1", StatusRejected)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	s := &apiServer{status: http.StatusInternalServerError, getBody: `{"error":"Failed to update metadata"}`}
	c = onlineController(t, s, fakeTokens{token: "tok"})
	_, err = c.UpdateStatus(ctx, "doc-1", StatusRejected)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Failed to update metadata", apiErr.Message)
	assert.Equal(t, err, c.State().Err)

	_, err = NewController(nil, nil).UpdateStatus(ctx, "doc-1", StatusProved)
	assert.True(t, errors.Is(err, ErrOffline))
}

func TestPageTabs(t *testing.T) {
	c := NewController(nil, nil)
	_, err := c.FetchDocument(context.Background(), "", "")
	require.NoError(t, err)

	page, ok := c.Page()
	require.True(t, ok)
	assert.Nil(t, page.Mismatch)
	assert.NotEmpty(t, page.Content)

	active := 0
	for _, tab := range page.Tabs {
		if tab.Active {
			active++
			assert.Equal(t, c.State().Doc.DocumentClass.Type, tab.Type)
			assert.False(t, tab.Disabled)
		} else {
			assert.True(t, tab.Disabled)
		}
	}
	assert.Equal(t, 1, active)
	assert.Len(t, page.Tabs, len(document.DocTypes))
}

func TestSelectTab(t *testing.T) {
	c := NewController(nil, nil)
	assert.True(t, errors.Is(c.SelectTab(document.Type1), ErrTabDisabled))

	rec, err := c.FetchDocument(context.Background(), "", "")
	require.NoError(t, err)
	assert.NoError(t, c.SelectTab(rec.DocumentClass.Type))
	for _, other := range document.DocTypes {
		if other != rec.DocumentClass.Type {
			assert.True(t, errors.Is(c.SelectTab(other), ErrTabDisabled))
		}
	}
}

func TestBuildPageMismatch(t *testing.T) {
	rec, err := document.Parse([]byte(typedDoc))
	require.NoError(t, err)
	page, ok := BuildPage(ViewState{Doc: rec, ActiveTab: document.Type1})
	require.True(t, ok)
	require.NotNil(t, page.Mismatch)
	assert.Equal(t, document.Type1, page.Mismatch.Expected)
	assert.Equal(t, document.Type2, page.Mismatch.Found)
	assert.Empty(t, page.Content)

	var buf bytes.Buffer
	require.NoError(t, page.WriteText(&buf))
	assert.Contains(t, buf.String(), "Document type mismatch")
}

func TestFormatConfidence(t *testing.T) {
	assert.Equal(t, "97.31%", FormatConfidence(0.9731))
	assert.Equal(t, "0.00%", FormatConfidence(0))
	assert.Equal(t, "100.00%", FormatConfidence(1))
}

func TestPageWriteText(t *testing.T) {
	rec, err := document.Parse([]byte(typedDoc))
	require.NoError(t, err)
	page, ok := BuildPage(ViewState{Doc: rec, ActiveTab: rec.DocumentClass.Type})
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, page.WriteText(&buf))
	assert.Equal(t, "bp\nConfidence: 50.00%\n Type1  [Type2]  Type3   TypeN \n\na: b\n", buf.String())
}

type fakeCognito struct {
	calls int
	out   *cognitoidentityprovider.InitiateAuthOutput
	err   error
	input *cognitoidentityprovider.InitiateAuthInput
}

func (f *fakeCognito) InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.calls++
	f.input = params
	return f.out, f.err
}

func TestCognitoTokenSourceCaches(t *testing.T) {
	token := "id-token"
	fake := &fakeCognito{out: &cognitoidentityprovider.InitiateAuthOutput{
		AuthenticationResult: &types.AuthenticationResultType{IdToken: &token, ExpiresIn: 3600},
	}}
	src := NewCognitoTokenSource(fake, "client-1", "user@example.com", "secret")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		got, err := src.SessionToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "id-token", got)
	}
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, types.AuthFlowTypeUserPasswordAuth, fake.input.AuthFlow)
	assert.Equal(t, "user@example.com", fake.input.AuthParameters["USERNAME"])

	now = now.Add(time.Hour)
	_, err := src.SessionToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
}

func TestCognitoTokenSourceFailures(t *testing.T) {
	fake := &fakeCognito{err: &types.NotAuthorizedException{}}
	_, err := NewCognitoTokenSource(fake, "c", "u", "p").SessionToken(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))

	fake = &fakeCognito{out: &cognitoidentityprovider.InitiateAuthOutput{ChallengeName: types.ChallengeNameTypeNewPasswordRequired}}
	_, err = NewCognitoTokenSource(fake, "c", "u", "p").SessionToken(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))

	fake = &fakeCognito{err: errors.New("network down")}
	_, err = NewCognitoTokenSource(fake, "c", "u", "p").SessionToken(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestStaticTokenSource(t *testing.T) {
	tok, err := StaticTokenSource("abc").SessionToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}
