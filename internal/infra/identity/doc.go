// Package identity loads TLS identities (certificate chain plus private key)
// keyed by hostname and selects them by SNI during the handshake.
//
// Two on-disk layouts are understood:
//
//   - a directory in certbot "live" layout, where every immediate
//     subdirectory is named after a hostname and holds fullchain.pem and
//     privkey.pem;
//   - a single <name>.crt / <name>.key pair, served for hostname <name>.
//
// A Resolver is immutable once Load returns. Rotation is done by loading a
// new Resolver and swapping it in; see Watcher for change notifications.
package identity
