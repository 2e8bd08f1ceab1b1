// Package logger es el logging estructurado de authcore sobre zap.
//
// Hay un logger global (Init/L) y uno por request que el middleware HTTP
// guarda en el context con request_id. Los servicios lo recuperan con
// For(ctx, layer, op).
//
// Nunca se loguean passwords, valores de token, secretos TOTP ni backup
// codes. Los emails van enmascarados con Email.
//
//	log := logger.For(ctx, "service", "Login", logger.ApplicationID(appID))
//	log.Info("login ok", logger.UserID(userID))
package logger
