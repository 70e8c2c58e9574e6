/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package sdjwt implements creating JSON Web Token (JWT) documents that support
selective disclosure of their claims, resolving them back into claim trees,
and the compact wire format that carries them.

In an SD-JWT, claims can be hidden, but cryptographically protected against
undetected modification. When issuing the SD-JWT, the Issuer replaces each
selected claim by its digest: an object member moves into the enclosing "_sd"
array, an array element becomes {"...": digest}. The matching Disclosure (the
salt, the claim name for object members, and the claim value) travels next to
the SD-JWT in the combined format:

	COMBINED-ISSUANCE = SD-JWT | DISCLOSURES

The Holder releases a subset of the Disclosures to a Verifier:

	COMBINED-PRESENTATION = SD-JWT | SELECTED-DISCLOSURES | [HOLDER-VERIFICATION-JWT]

The Verifier substitutes each matched digest by its claim value and removes
the digests that stayed withheld; withheld claims and decoy digests are
indistinguishable to it.

See the issuer, holder and verifier packages for the three roles, and the
common package for the shared disclosure algebra.
*/
package sdjwt
