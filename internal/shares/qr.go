package shares

import (
	"context"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrCodeSize = 256

// QRCode renders the share link of an active session as a PNG.
func (s *Service) QRCode(ctx context.Context, sessionID string) ([]byte, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := stateError(session.State(s.clock())); err != nil {
		return nil, newServiceError(opQRCode, string(session.State(s.clock())), err)
	}
	png, err := qrcode.Encode(s.SessionLink(session), qrcode.High, qrCodeSize)
	if err != nil {
		s.logError(opQRCode, "render_failed", err, zap.String(fieldSessionID, session.ID))
		return nil, newServiceError(opQRCode, "render_failed", err)
	}
	return png, nil
}
