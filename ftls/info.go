// Copyright 2017 Istio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ftls

import (
	"crypto/tls"

	"fortio.org/log"
)

const (
	// DefaultServerCert is the default full path of the server-side certificate.
	DefaultServerCert = "/etc/ssl/certs/server.crt"
	// DefaultServerKey is the default full path of the server-side key.
	DefaultServerKey = "/etc/ssl/certs/server.key"
	// DefaultClientCert is the default full path of the client-side certificate.
	DefaultClientCert = "/etc/ssl/certs/client.crt"
	// DefaultClientKey is the default full path of the client-side key.
	DefaultClientKey = "/etc/ssl/certs/client.key"
	// DefaultCACert is the default full path of the Certificate Authority certificate.
	DefaultCACert = "/etc/ssl/certs/ca.crt"
)

// TLSInfo prepares tls.Config's from TLS filename inputs.
type TLSInfo struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// ClientConfig returns a tls.Config for client use. insecure mirrors
// curl-loader's SSL_VERIFICATION config key: when true, peer verification
// is disabled (curl-loader's default).
func (info *TLSInfo) ClientConfig(insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}
	if info.CAFile != "" {
		pool, err := NewCertPool([]string{info.CAFile})
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
		log.Infof("Using CA certificate: %v to authenticate server certificate", info.CAFile)
	}
	if info.CertFile == "" {
		return cfg, nil
	}
	log.Infof("Using TLS client certificate: %v", info.CertFile)
	log.Infof("Using TLS client key: %v", info.KeyFile)
	cert, err := tls.LoadX509KeyPair(info.CertFile, info.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}
