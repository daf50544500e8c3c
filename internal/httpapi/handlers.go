package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/apperr"
	"smartattendance/internal/attendance"
	"smartattendance/internal/auth"
	"smartattendance/internal/device"
	"smartattendance/internal/face"
	"smartattendance/internal/session"
)

type authorizeRequest struct {
	IdentityID  string `json:"identity_id" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
	Assertion   string `json:"assertion"`
}

func (s *server) authorizeDevice(c *gin.Context) {
	var req authorizeRequest
	if !bindJSON(c, &req) {
		return
	}
	if !auth.CheckAssertion(s.Auth.AssertionKey, req.IdentityID, req.Fingerprint, req.Assertion) {
		writeError(c, apperr.New(apperr.CodeUnauthenticated, "login assertion invalid"), nil)
		return
	}
	ctx := c.Request.Context()
	id, err := s.Attendance.Repository().Identity(ctx, req.IdentityID)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if id == nil {
		writeError(c, apperr.NotFound("identity "+req.IdentityID), nil)
		return
	}

	decision, err := s.Guard.AuthorizeLogin(ctx, req.IdentityID, req.Fingerprint)
	if err != nil {
		writeError(c, err, gin.H{"decision": decision})
		return
	}
	tokens, err := auth.Issue(auth.Principal{Subject: id.ID, Role: id.Role, Device: req.Fingerprint},
		s.Auth.Issuer, s.Auth.SigningKey, s.Auth.AccessTTL, s.Auth.RefreshTTL)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	status := http.StatusOK
	if decision == device.Bound {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"decision": decision, "role": id.Role, "tokens": tokens})
}

func (s *server) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	cl, err := auth.ParseRefresh(req.RefreshToken, s.Auth.SigningKey, s.Auth.Issuer)
	if err != nil {
		writeError(c, apperr.New(apperr.CodeUnauthenticated, "invalid refresh token"), nil)
		return
	}
	// a cleared or rebound device invalidates outstanding refresh tokens
	b, err := s.Guard.Binding(c.Request.Context(), cl.Subject)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if b == nil || b.Fingerprint != cl.Device {
		writeError(c, apperr.ErrDeviceMismatch, nil)
		return
	}
	tokens, err := auth.Issue(cl.Principal(), s.Auth.Issuer, s.Auth.SigningKey, s.Auth.AccessTTL, s.Auth.RefreshTTL)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

type captureRequest struct {
	SessionID string          `json:"session_id"`
	Image     []byte          `json:"image" binding:"required"`
	Detection *face.Detection `json:"detection"`
}

// capture returns the request frame, asking the detector when the client
// sent none.
func (s *server) capture(c *gin.Context, req captureRequest) (face.Capture, error) {
	fc := face.Capture{Image: req.Image, Detection: req.Detection}
	if fc.Detection == nil && s.Detector != nil {
		d, err := s.Detector.Detect(c.Request.Context(), req.Image)
		if err != nil {
			return face.Capture{}, err
		}
		fc.Detection = d
	}
	return fc, nil
}

func (s *server) enroll(c *gin.Context) {
	var req captureRequest
	if !bindJSON(c, &req) {
		return
	}
	fc, err := s.capture(c, req)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	cl := claims(c)
	tpl, err := s.Attendance.Enroll(c.Request.Context(), cl.Subject, cl.Device, fc)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"identity_id": cl.Subject,
		"quality":     tpl.Quality,
		"image_url":   tpl.ImageURL,
		"enrolled_at": tpl.EnrolledAt,
	})
}

func (s *server) checkIn(c *gin.Context) {
	var req captureRequest
	if !bindJSON(c, &req) {
		return
	}
	fc, err := s.capture(c, req)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	res, err := s.Attendance.CheckIn(c.Request.Context(), claims(c).Subject, req.SessionID, fc)
	if err != nil {
		var extra gin.H
		if errors.Is(err, apperr.ErrVerificationNoMatch) || errors.Is(err, apperr.ErrAttemptsExhausted) {
			extra = gin.H{"attempts_left": res.AttemptsLeft, "verification": res.Verification}
		}
		writeError(c, err, extra)
		return
	}
	status := http.StatusCreated
	if res.Outcome == attendance.AlreadyRecorded {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *server) history(c *gin.Context) {
	ids, err := s.Attendance.History(c.Request.Context(), claims(c).Subject)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func (s *server) activeSession(c *gin.Context) {
	sess, err := s.Attendance.ActiveSession(c.Request.Context(), claims(c).Subject)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *server) createSession(c *gin.Context) {
	var req struct {
		Branch  string `json:"branch" binding:"required"`
		Year    string `json:"year" binding:"required"`
		Section string `json:"section" binding:"required"`
		Subject string `json:"subject" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	class := session.ClassKey{Branch: req.Branch, Year: req.Year, Section: req.Section}
	sess, err := s.Sessions.Create(c.Request.Context(), class, req.Subject, claims(c).Subject)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *server) getSession(c *gin.Context) {
	sess, err := s.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *server) endSession(c *gin.Context) {
	sess, err := s.Sessions.End(c.Request.Context(), c.Param("id"), claims(c).Subject)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *server) summary(c *gin.Context) {
	sum, err := s.Attendance.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, sum)
}
