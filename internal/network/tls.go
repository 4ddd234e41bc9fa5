// Copyright 2025 Arion Yau
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

package network

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrNoPeerCertificate = errors.New("network: no peer certificate")
	ErrNoCommonName      = errors.New("network: certificate has no common name")
)

// TLSFiles names the PEM files making up one side of a mutual TLS setup
type TLSFiles struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoadCertPool reads a PEM bundle of trust anchors
func LoadCertPool(caFile string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("failed to parse ca bundle: %s", caFile)
	}
	return pool, nil
}

// ServerTLSConfig builds the controller-side context: it presents the
// controller certificate and requires a client certificate signed by the
// trust anchor.
func ServerTLSConfig(files TLSFiles) (*tls.Config, error) {
	pool, err := LoadCertPool(files.CAFile)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

// ClientTLSConfig builds the device-side context. The controller chain is
// verified against the trust anchor here; its common name is checked
// separately by the caller after the handshake so that a mismatch can be
// told apart from a transient handshake failure.
func ClientTLSConfig(files TLSFiles) (*tls.Config, error) {
	pool, err := LoadCertPool(files.CAFile)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		// Hostname verification is replaced by VerifyConnection plus the
		// post-handshake common-name pin.
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return verifyChain(cs, pool)
		},
	}, nil
}

func verifyChain(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return ErrNoPeerCertificate
	}
	intermediates := x509.NewCertPool()
	for _, c := range cs.PeerCertificates[1:] {
		intermediates.AddCert(c)
	}
	_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return fmt.Errorf("failed to verify controller certificate: %w", err)
	}
	return nil
}

// PeerCommonName returns the subject common name of the verified leaf
// certificate presented by the peer.
func PeerCommonName(cs tls.ConnectionState) (string, error) {
	if len(cs.PeerCertificates) == 0 {
		return "", ErrNoPeerCertificate
	}
	cn := strings.TrimSpace(cs.PeerCertificates[0].Subject.CommonName)
	if cn == "" {
		return "", ErrNoCommonName
	}
	return cn, nil
}
