package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const detailPageHTML = `
<html><body>
<div class="counselor_profile_wrap">
  <div class="counselor_img"><img src="/upload/p/1042.jpg"></div>
  <table class="counselor_profile">
    <tr><th>이 름</th><td> 김상담 </td></tr>
    <tr><th>성별</th><td>여성</td></tr>
    <tr><th>자격증</th><td>전문상담사 1급<br>청소년상담사 2급</td></tr>
    <tr><th>이메일</th><td>kim@example.kr</td></tr>
  </table>
</div>
<table class="counselor_info">
  <tr><th>상담 대상</th><td>아동, 청소년</td></tr>
  <tr><th>전문분야</th><td>옛분류,대략 | 개인상담,심리검사</td></tr>
  <tr><th>상담가능장소</th>
      <td><dl><dt>마음센터</dt><dd>서울 강남구</dd></dl>
          <dl><dt>분원</dt><dd>경기 성남시</dd></dl></td></tr>
  <tr><th>상담비용</th><td>회당 5만원</td></tr>
  <tr><th>자격번호</th><td>제123호</td></tr>
</table>
</body></html>`

func TestParseDetailFullPage(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, detailPageHTML)
	d := ParseDetail(doc, "https://www.counselors.or.kr/KOR/user/find_counselors_detail.php")

	require.Equal(t, "김상담", d.Name)
	require.Equal(t, "여성", d.Gender)
	require.Equal(t, "kim@example.kr", d.Email)
	require.Equal(t, "제123호", d.LicenseNo)
	require.Equal(t, "전문상담사 1급\n청소년상담사 2급", d.LicenseType)
	require.Equal(t, "아동, 청소년", d.Targets)
	require.Equal(t, "옛분류,대략 | 개인상담,심리검사", d.Specialty)
	require.Equal(t, "마음센터 : 서울 강남구; 분원 : 경기 성남시", d.Regions)
	require.Equal(t, "회당 5만원", d.Fee)
	require.Equal(t, "https://www.counselors.or.kr/upload/p/1042.jpg", d.ProfileImage)
}

func TestParseDetailEmailLabelSynonym(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<table class="counselor_profile">
		<tr><th>E-Mail</th><td>mail@site.kr</td></tr></table>`)
	d := ParseDetail(doc, "https://example.com/")
	require.Equal(t, "mail@site.kr", d.Email)
}

func TestParseDetailEmailRegexFallback(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<html><body>
		<table class="counselor_profile"><tr><th>연락처</th><td>없음</td></tr></table>
		<p>문의: fallback.addr+x@mail.example.org 로 연락</p></body></html>`)
	d := ParseDetail(doc, "https://example.com/")
	require.Equal(t, "fallback.addr+x@mail.example.org", d.Email)
}

func TestParseDetailMissingTables(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, "<html><body><p>자료 없음</p></body></html>")
	d := ParseDetail(doc, "https://example.com/")
	require.Empty(t, d.Name)
	require.Empty(t, d.Email)
	require.Empty(t, d.Regions)
}

func TestParseDetailPlacesFallbackToCellText(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<table class="counselor_info">
		<tr><th>상담가능장소</th><td>서울 전역 방문상담</td></tr></table>`)
	d := ParseDetail(doc, "https://example.com/")
	require.Equal(t, "서울 전역 방문상담", d.Regions)
}
