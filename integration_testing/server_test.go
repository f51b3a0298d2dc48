package integration_testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2beens/fixfit/internal"
	"github.com/2beens/fixfit/internal/middleware"
	"github.com/2beens/fixfit/internal/pose"
	"github.com/2beens/fixfit/internal/session"
	pkgtesting "github.com/2beens/fixfit/pkg/testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

const testAdminToken = "integration-admin-token"

type ServerTestSuite struct {
	suite.Suite

	server      *internal.Server
	redisClient *redis.Client
	detector    *httptest.Server
	httpClient  *http.Client
	cleanup     func()
}

func TestServerTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration tests need docker")
	}
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupSuite() {
	// the detector sidecar always sees a person standing straight
	s.detector = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"landmarks": squatLandmarks(180)})
	}))

	adminTokenHash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	s.Require().NoError(err)

	server, redisPort, cleanup, err := serverSetup(context.Background(), s.detector.URL, string(adminTokenHash))
	s.Require().NoError(err)
	s.server = server
	s.cleanup = cleanup
	s.redisClient = pkgtesting.NewRedisClient(s.T(), "localhost", redisPort)
	s.httpClient = &http.Client{Timeout: 5 * time.Second}

	s.Require().Eventually(func() bool {
		resp, err := s.httpClient.Get(serverEndpoint + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond)
}

func (s *ServerTestSuite) TearDownSuite() {
	if s.cleanup != nil {
		s.cleanup()
	}
	if s.detector != nil {
		s.detector.Close()
	}
}

// rate limit counters are shared by all tests from this host
func (s *ServerTestSuite) TearDownTest() {
	s.Require().NoError(s.redisClient.FlushAll(context.Background()).Err())
}

func (s *ServerTestSuite) post(path string, body any, headers ...string) *http.Response {
	var reqBody bytes.Buffer
	s.Require().NoError(json.NewEncoder(&reqBody).Encode(body))
	req, err := http.NewRequest(http.MethodPost, serverEndpoint+path, &reqBody)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.httpClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *ServerTestSuite) TestHealth() {
	resp, err := s.httpClient.Get(serverEndpoint + "/health")
	s.Require().NoError(err)
	defer resp.Body.Close()

	var health internal.HealthResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&health))
	s.Equal("healthy", health.Status)
	s.Equal("ok", health.Redis)
}

func (s *ServerTestSuite) TestSessionCountsRep() {
	resp := s.post("/api/v1/sessions", nil)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var created session.CreateSessionResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	var last map[string]any
	for i, angle := range []float64{180, 120, 85, 120, 180} {
		resp := s.post(fmt.Sprintf("/api/v1/sessions/%s/frames", created.SessionID), session.FrameRequest{
			Timestamp: ptr(float64(i)),
			Landmarks: squatLandmarks(angle),
		})
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		last = nil
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&last))
		resp.Body.Close()
	}

	s.Equal("STANDING", last["current_state"])
	s.Equal(float64(1), last["rep_count"])
}

func (s *ServerTestSuite) TestAnalyzeFrame() {
	resp := s.post("/api/v1/analyze-frame", session.AnalyzeFrameRequest{
		FrameData: "data:image/jpeg;base64,/9j/4AAQ",
		Timestamp: ptr(1),
	})
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var res map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&res))
	s.Equal("STANDING", res["current_state"])
	s.Equal(true, res["is_form_valid"])
}

func (s *ServerTestSuite) TestFramesRateLimited() {
	codes := map[int]int{}
	for range framesAllowedPerMin + 5 {
		resp := s.post("/api/v1/sessions/default/frames", session.FrameRequest{NoPose: true})
		codes[resp.StatusCode]++
		if resp.StatusCode == http.StatusTooManyRequests {
			s.NotEmpty(resp.Header.Get("Retry-After"))
		}
		resp.Body.Close()
	}

	s.Equal(framesAllowedPerMin, codes[http.StatusOK])
	s.Equal(5, codes[http.StatusTooManyRequests])
}

func (s *ServerTestSuite) TestAdminRequiresToken() {
	resp, err := s.httpClient.Get(serverEndpoint + "/api/v1/admin/sessions")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, serverEndpoint+"/api/v1/admin/sessions", nil)
	s.Require().NoError(err)
	req.Header.Set(middleware.AdminTokenHeader, testAdminToken)
	resp, err = s.httpClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func ptr(v float64) *float64 {
	return &v
}

func squatLandmarks(kneeAngle float64) []pose.Landmark {
	rad := kneeAngle * math.Pi / 180
	landmarks := make([]pose.Landmark, pose.NumLandmarks)
	for i := range landmarks {
		landmarks[i] = pose.NewLandmark(0.5, 0.3, 0).WithVisibility(0.9)
	}
	for _, leg := range []struct {
		hip, knee, ankle pose.BodyPart
		x                float64
	}{
		{hip: pose.LeftHip, knee: pose.LeftKnee, ankle: pose.LeftAnkle, x: 0.4},
		{hip: pose.RightHip, knee: pose.RightKnee, ankle: pose.RightAnkle, x: 0.6},
	} {
		landmarks[leg.knee] = pose.NewLandmark(leg.x, 0.6, 0).WithVisibility(0.9)
		landmarks[leg.ankle] = pose.NewLandmark(leg.x, 0.9, 0).WithVisibility(0.9)
		landmarks[leg.hip] = pose.NewLandmark(leg.x-0.3*math.Sin(rad), 0.6+0.3*math.Cos(rad), 0).WithVisibility(0.9)
	}
	return landmarks
}
