package nasclient

import "crypto/tls"

// insecureTLSConfig is used only when a scan descriptor uses TLS and its
// nas.verifyTls is false, which is also its value when the key is omitted
// (VERIFY_TLS, when set, overrides it).
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}
